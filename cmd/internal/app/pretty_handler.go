package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

// prettyHandler writes one key=value line per record for local development.
// Attributes bound with WithAttrs are rendered once and reused.
type prettyHandler struct {
	w      io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	source bool
	color  bool
	prefix string // group path, dot-terminated
	bound  string // pre-rendered WithAttrs output
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, mu: &sync.Mutex{}, color: color, level: slog.LevelInfo}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.source = opts.AddSource
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	b.WriteString("ts=" + h.paint(ts.Format("15:04:05.000"), ansiDim))
	b.WriteString(" lvl=" + h.levelTag(r.Level))
	b.WriteString(" msg=" + h.paint(r.Message, ansiBright))
	if h.source {
		if src := sourceOf(r.PC); src != "" {
			b.WriteString(" src=" + h.paint(src, ansiDim))
		}
	}
	b.WriteString(h.bound)
	r.Attrs(func(a slog.Attr) bool {
		h.render(&b, h.prefix, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.bound)
	for _, a := range attrs {
		h.render(&b, h.prefix, a)
	}
	cp := *h
	cp.bound = b.String()
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) render(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)

	if a.Value.Kind() == slog.KindGroup {
		// Inline groups (empty key) splice their members into the parent.
		if key != "" {
			prefix += key + "."
		}
		for _, ga := range a.Value.Group() {
			h.render(b, prefix, ga)
		}
		return
	}
	if key == "" {
		return
	}

	display := key
	if alias, ok := keyAliases[key]; ok {
		display = alias
	}
	b.WriteByte(' ')
	b.WriteString(prefix + display)
	b.WriteByte('=')
	if style, ok := fieldStyles[key]; ok {
		if s, ok := style(h, a.Value); ok {
			b.WriteString(s)
			return
		}
	}
	b.WriteString(quoteIfNeeded(valueToString(a.Value)))
}

var keyAliases = map[string]string{
	"status_class": "class",
	"duration_ms":  "duration",
}

// fieldStyle renders a well-known attribute. It reports false to fall back
// to the plain rendering.
type fieldStyle func(h *prettyHandler, v slog.Value) (string, bool)

var fieldStyles = map[string]fieldStyle{
	"method":       styleMethod,
	"path":         styleWith(ansiCyan),
	"status":       styleStatus,
	"status_class": styleStatusClass,
	"class":        styleStatusClass,
	"duration_ms":  styleDuration,
	"result":       styleResult,
	"outcome":      styleResult,
	"action":       styleAction,
	"score":        styleScore,
	"factors":      styleFactors,
	"err":          styleWith(ansiRed),
	"principal_id": styleWith(ansiDim),
	"session_id":   styleWith(ansiDim),
}

func styleWith(code string) fieldStyle {
	return func(h *prettyHandler, v slog.Value) (string, bool) {
		return h.paint(quoteIfNeeded(valueToString(v)), code), true
	}
}

func styleMethod(h *prettyHandler, v slog.Value) (string, bool) {
	m := strings.ToUpper(strings.TrimSpace(v.String()))
	code := ansiMagenta
	switch m {
	case "GET":
		code = ansiGreen
	case "POST":
		code = ansiBlue
	case "DELETE":
		code = ansiRed
	case "OPTIONS":
		code = ansiDim
	}
	return h.paint(m, code), true
}

func statusColor(status int) string {
	switch {
	case status >= 500:
		return ansiRed
	case status >= 400:
		return ansiYellow
	case status >= 300:
		return ansiCyan
	default:
		return ansiGreen
	}
}

func styleStatus(h *prettyHandler, v slog.Value) (string, bool) {
	n, ok := valueToInt64(v)
	if !ok {
		return "", false
	}
	return h.paint(strconv.FormatInt(n, 10), statusColor(int(n))), true
}

func styleStatusClass(h *prettyHandler, v slog.Value) (string, bool) {
	class := strings.TrimSpace(v.String())
	if class == "" || class[0] < '1' || class[0] > '5' {
		return "", false
	}
	n := int(class[0]-'0') * 100
	if n < 200 {
		n = 200
	}
	return h.paint(class, statusColor(n)), true
}

func styleDuration(h *prettyHandler, v slog.Value) (string, bool) {
	ms, ok := valueToInt64(v)
	if !ok {
		return "", false
	}
	code := ansiDim
	switch {
	case ms >= 1000:
		code = ansiRed
	case ms >= 250:
		code = ansiYellow
	}
	return h.paint(strconv.FormatInt(ms, 10)+"ms", code), true
}

func styleResult(h *prettyHandler, v slog.Value) (string, bool) {
	r := strings.ToLower(strings.TrimSpace(v.String()))
	if r == "" {
		return "", false
	}
	code := ansiRed
	switch r {
	case "success", "ok", "upgrade":
		code = ansiGreen
	case "redirect":
		code = ansiCyan
	case "client_error", "denied", "challenge":
		code = ansiYellow
	}
	return h.paint(r, code), true
}

// styleAction colors risk decisions.
func styleAction(h *prettyHandler, v slog.Value) (string, bool) {
	a := strings.ToUpper(strings.TrimSpace(v.String()))
	switch a {
	case "ALLOW":
		return h.paint(a, ansiGreen), true
	case "SOFT_CHALLENGE", "STEP_UP":
		return h.paint(a, ansiYellow), true
	case "BLOCK":
		return h.paint(a, ansiRed), true
	}
	return "", false
}

// styleScore bands a risk score by the default decision thresholds.
func styleScore(h *prettyHandler, v slog.Value) (string, bool) {
	n, ok := valueToInt64(v)
	if !ok {
		return "", false
	}
	code := ansiGreen
	switch {
	case n >= 80:
		code = ansiRed
	case n >= 30:
		code = ansiYellow
	}
	return h.paint(strconv.FormatInt(n, 10), code), true
}

// styleFactors renders a factor list as a comma-joined bracket.
func styleFactors(_ *prettyHandler, v slog.Value) (string, bool) {
	if v.Kind() != slog.KindAny {
		return "", false
	}
	fs, ok := v.Any().([]string)
	if !ok {
		return "", false
	}
	return "[" + strings.Join(fs, ",") + "]", true
}

func (h *prettyHandler) levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return h.paint("[ERROR]", ansiRed)
	case level >= slog.LevelWarn:
		return h.paint("[WARN]", ansiYellow)
	case level < slog.LevelInfo:
		return h.paint("[DEBUG]", ansiMagenta)
	default:
		return h.paint("[INFO]", ansiBlue)
	}
}

func (h *prettyHandler) paint(s, code string) string {
	if !h.color || code == "" {
		return s
	}
	return code + s + ansiReset
}

func sourceOf(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if frame.File == "" {
		return ""
	}
	return filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		u := v.Uint64()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// stripANSI removes CSI color sequences.
func stripANSI(s string) string {
	if !strings.Contains(s, "\x1b[") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && (s[j] < 0x40 || s[j] > 0x7e) {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
