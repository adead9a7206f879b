package permissions

import api "github.com/OvyFlash/telegram-bot-api"

// CanRestrict reports whether member may restrict and ban other members.
func CanRestrict(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	if member.IsCreator() {
		return true
	}
	return member.IsAdministrator() && member.CanRestrictMembers
}

// CanDelete reports whether member may delete messages of others.
func CanDelete(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	if member.IsCreator() {
		return true
	}
	return member.IsAdministrator() && member.CanDeleteMessages
}
