package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"
)

type palette struct {
	fg       string
	time     string
	accent   string
	accent2  string
	id       string
	number   string
	yellow   string
	red      string
	redBg    string
	yellowBg string
}

var themes = map[string]palette{
	"everforest": {
		fg:       "\x1b[38;5;223m",
		time:     "\x1b[38;5;107m",
		accent:   "\x1b[38;5;108m",
		accent2:  "\x1b[38;5;208m",
		id:       "\x1b[38;5;109m",
		number:   "\x1b[38;5;108m",
		yellow:   "\x1b[38;5;179m",
		red:      "\x1b[38;5;167m",
		redBg:    "\x1b[48;5;52m",
		yellowBg: "\x1b[48;5;58m",
	},
	"gruvbox": {
		fg:       "\x1b[38;5;223m",
		time:     "\x1b[38;5;108m",
		accent:   "\x1b[38;5;208m",
		accent2:  "\x1b[38;5;214m",
		id:       "\x1b[38;5;109m",
		number:   "\x1b[38;5;175m",
		yellow:   "\x1b[38;5;214m",
		red:      "\x1b[38;5;167m",
		redBg:    "\x1b[48;5;88m",
		yellowBg: "\x1b[48;5;58m",
	},
}

var currentTheme = "everforest"

// SetTheme configures the color scheme for console output
func SetTheme(theme string) {
	if _, ok := themes[theme]; ok {
		currentTheme = theme
	}
}

func colors() palette {
	return themes[currentTheme]
}

// Fields rendered inline by the console encoder, in this order.
// Everything else is only visible in JSON output.
var inlineFields = []string{
	FieldSourceID,
	FieldJobID,
	FieldPath,
	FieldAttempt,
	FieldErrorType,
	FieldError,
	FieldCount,
	FieldDurationMS,
}

// minimalEncoder implements a compact console encoder.
// Format: "13:04:35  p.worker  Job completed  tenant-a-weighbridge 7f3c.. 42ms"
type minimalEncoder struct {
	zapcore.Encoder
}

func newMinimalEncoder() *minimalEncoder {
	return &minimalEncoder{
		Encoder: zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
	}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	return &minimalEncoder{Encoder: enc.Encoder.Clone()}
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	c := colors()
	final := buffer.NewPool().Get()

	final.AppendString(c.time)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	// Level is only shown when it is worth attention
	if lvl := levelColorString(ent.Level); lvl != "" {
		final.AppendString("  ")
		final.AppendString(lvl)
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(colorComponent(ent.LoggerName))
		final.AppendString(abbreviateName(ent.LoggerName))
		final.AppendString(colorReset)
	}

	final.AppendString("  ")
	final.AppendString(c.fg)
	final.AppendString(symbolPrefix(fields))
	final.AppendString(ent.Message)
	final.AppendString(colorReset)

	if values := extractFieldValues(fields); values != "" {
		final.AppendString("  ")
		final.AppendString(values)
	}

	final.AppendString("\n")
	return final, nil
}

func levelColorString(level zapcore.Level) string {
	c := colors()
	switch level {
	case zapcore.DebugLevel, zapcore.InfoLevel:
		return ""
	case zapcore.WarnLevel:
		return colorBold + c.yellowBg + c.yellow + "WARN" + colorReset
	default:
		return colorBold + c.redBg + c.red + level.CapitalString() + colorReset
	}
}

// colorComponent hashes the component name so each one keeps a stable color
func colorComponent(name string) string {
	hash := 0
	for _, r := range name {
		hash += int(r)
	}
	c := colors()
	if hash%2 == 0 {
		return c.accent
	}
	return c.accent2
}

// abbreviateName shortens component names: pulse.worker -> p.worker
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 && parts[0] != "" {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}

func symbolPrefix(fields []zapcore.Field) string {
	for _, f := range fields {
		if f.Key == FieldSymbol && f.Type == zapcore.StringType {
			return f.String + " "
		}
	}
	return ""
}

// getFieldValue renders any zap field through a map encoder so that no
// field type is silently lost
func getFieldValue(field zapcore.Field) string {
	if field.Type == zapcore.StringType {
		return field.String
	}
	enc := zapcore.NewMapObjectEncoder()
	field.AddTo(enc)
	v, ok := enc.Fields[field.Key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// extractFieldValues renders the well-known fields as bare values, then
// every remaining field as key=value. Fields are never dropped.
func extractFieldValues(fields []zapcore.Field) string {
	c := colors()
	byKey := make(map[string]zapcore.Field, len(fields))
	for _, f := range fields {
		byKey[f.Key] = f
	}

	var values []string
	inline := make(map[string]bool, len(inlineFields)+1)
	inline[FieldSymbol] = true
	for _, key := range inlineFields {
		inline[key] = true
		f, ok := byKey[key]
		if !ok {
			continue
		}
		val := getFieldValue(f)
		if val == "" {
			continue
		}
		switch key {
		case FieldJobID:
			values = append(values, c.id+shortID(val)+colorReset)
		case FieldAttempt:
			values = append(values, "attempt "+c.number+val+colorReset)
		case FieldDurationMS:
			values = append(values, c.number+val+colorReset+"ms")
		case FieldError:
			values = append(values, c.red+val+colorReset)
		default:
			values = append(values, c.fg+val+colorReset)
		}
	}

	for _, f := range fields {
		if inline[f.Key] {
			continue
		}
		values = append(values, c.fg+f.Key+"="+getFieldValue(f)+colorReset)
	}
	return strings.Join(values, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
