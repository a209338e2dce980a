package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyInstance   = "instance"
	KeyKind       = "kind"
	KeyAction     = "action"
	KeySender     = "sender"
	KeyTarget     = "target"
	KeyCodeHash   = "code_hash"
	KeyDepth      = "depth"
	KeyWrites     = "writes"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

func Instance(addr string) slog.Attr  { return slog.String(KeyInstance, addr) }
func Kind(k string) slog.Attr         { return slog.String(KeyKind, k) }
func Action(a string) slog.Attr       { return slog.String(KeyAction, a) }
func Sender(addr string) slog.Attr    { return slog.String(KeySender, addr) }
func Target(addr string) slog.Attr    { return slog.String(KeyTarget, addr) }
func CodeHash(h string) slog.Attr     { return slog.String(KeyCodeHash, h) }
func Depth(d int) slog.Attr           { return slog.Int(KeyDepth, d) }
func Writes(n int) slog.Attr          { return slog.Int(KeyWrites, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
