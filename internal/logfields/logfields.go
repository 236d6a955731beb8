// Package logfields pins canonical log field names to avoid drift across
// packages.
package logfields

import "log/slog"

const (
	KeyProjectID  = "project_id"
	KeyOwnerID    = "owner_id"
	KeyPhase      = "phase"
	KeyAgent      = "agent"
	KeyMessageID  = "message_id"
	KeyAttempt    = "attempt"
	KeyWorker     = "worker"
	KeyPath       = "path"
	KeyFile       = "file"
	KeyURL        = "url"
	KeySize       = "size"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Helpers returning slog.Attr. Keeping each granular means callers can
// compose.
func ProjectID(id string) slog.Attr   { return slog.String(KeyProjectID, id) }
func OwnerID(id string) slog.Attr     { return slog.String(KeyOwnerID, id) }
func Phase(p string) slog.Attr        { return slog.String(KeyPhase, p) }
func Agent(a string) slog.Attr        { return slog.String(KeyAgent, a) }
func MessageID(id string) slog.Attr   { return slog.String(KeyMessageID, id) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func Worker(id string) slog.Attr      { return slog.String(KeyWorker, id) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func File(f string) slog.Attr         { return slog.String(KeyFile, f) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Size(n int64) slog.Attr          { return slog.Int64(KeySize, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
