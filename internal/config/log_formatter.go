package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	colorRed         = 31
	colorGreen       = 32
	colorYellow      = 33
	colorBlue        = 36
	colorGray        = 37
	colorLightGreen  = 92
	colorLightYellow = 93
	colorCyan        = 96
)

// Formatter renders logfmt-like lines with sorted fields, colored unless
// NoColor is set.
type Formatter struct {
	NoColor bool
}

func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	var b strings.Builder

	levelColor := colorBlue
	switch entry.Level {
	case log.DebugLevel, log.TraceLevel:
		levelColor = colorGray
	case log.WarnLevel:
		levelColor = colorYellow
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		levelColor = colorRed
	}
	b.WriteString(f.key("level"))
	b.WriteByte('=')
	b.WriteString(f.paint(levelColor, strings.ToUpper(entry.Level.String())[:4]))
	f.field(&b, "ts", f.paint(colorLightYellow, entry.Time.Format("2006-01-02 15:04:05.000")))
	if entry.HasCaller() {
		f.field(&b, "source", f.paint(colorLightYellow, fmt.Sprintf("%s:%d", entry.Caller.File, entry.Caller.Line)))
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := encodeValue(entry.Data[k])
		if s == "" {
			continue
		}
		valueColor := colorCyan
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			valueColor = colorGreen
		} else if strings.HasPrefix(s, `"`) {
			valueColor = colorLightYellow
		}
		f.field(&b, k, f.paint(valueColor, s))
	}
	f.field(&b, "msg", f.paint(colorLightGreen, strconv.Quote(entry.Message)))

	line := strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(b.String())
	return []byte(line + "\n"), nil
}

func (f *Formatter) field(b *strings.Builder, k, v string) {
	b.WriteByte(' ')
	b.WriteString(f.key(k))
	b.WriteByte('=')
	b.WriteString(v)
}

func (f *Formatter) key(k string) string {
	return f.paint(colorCyan, k)
}

func (f *Formatter) paint(color int, s string) string {
	if f.NoColor {
		return s
	}
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", color, s)
}

func encodeValue(v any) string {
	if err, ok := v.(error); ok {
		v = err.Error()
	}
	m, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(m)
}

// SetupLogging applies the level and formatter to the standard logrus logger.
func SetupLogging(level int, noColor bool) {
	log.SetFormatter(&Formatter{NoColor: noColor})
	log.SetLevel(log.Level(level))
}
