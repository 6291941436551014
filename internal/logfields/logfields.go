package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field names shared by every package.
const (
	KeyBuildID        = "build_id"
	KeyBuildStatus    = "build_status"
	KeyRepo           = "repository"
	KeyRepoID         = "repository_id"
	KeyCommit         = "commit"
	KeyBranch         = "branch"
	KeyPhase          = "phase"
	KeyInstallationID = "installation_id"
	KeyDeliveryID     = "delivery_id"
	KeyEvent          = "event"
	KeyLocale         = "locale"
	KeyPath           = "path"
	KeyCount          = "count"
	KeyRule           = "rule"
	KeyPRURL          = "pr_url"
	KeyWorker         = "worker"
	KeyMethod         = "method"
	KeyStatus         = "status"
	KeyRequestID      = "request_id"
	KeyRemoteAddr     = "remote_addr"
	KeyDurationMS     = "duration_ms"
	KeyReason         = "reason"
	KeyError          = "error"
)

func BuildID(id string) slog.Attr { return slog.String(KeyBuildID, id) }
func BuildStatus(s string) slog.Attr { return slog.String(KeyBuildStatus, s) }
func Repository(r string) slog.Attr { return slog.String(KeyRepo, r) }
func RepositoryID(id int64) slog.Attr { return slog.Int64(KeyRepoID, id) }
func Commit(sha string) slog.Attr { return slog.String(KeyCommit, sha) }
func Branch(b string) slog.Attr { return slog.String(KeyBranch, b) }
func Phase(p string) slog.Attr { return slog.String(KeyPhase, p) }
func InstallationID(id int64) slog.Attr { return slog.Int64(KeyInstallationID, id) }
func DeliveryID(id string) slog.Attr { return slog.String(KeyDeliveryID, id) }
func Event(e string) slog.Attr { return slog.String(KeyEvent, e) }
func Locale(l string) slog.Attr { return slog.String(KeyLocale, l) }
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }
func Count(n int) slog.Attr { return slog.Int(KeyCount, n) }
func Rule(r string) slog.Attr { return slog.String(KeyRule, r) }
func PRURL(u string) slog.Attr { return slog.String(KeyPRURL, u) }
func Worker(id int) slog.Attr { return slog.Int(KeyWorker, id) }
func Method(m string) slog.Attr { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr { return slog.Int(KeyStatus, code) }
func RequestID(id string) slog.Attr { return slog.String(KeyRequestID, id) }
func RemoteAddr(a string) slog.Attr { return slog.String(KeyRemoteAddr, a) }
func Reason(r string) slog.Attr { return slog.String(KeyReason, r) }

// Duration reports d in fractional milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d)/float64(time.Millisecond))
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
