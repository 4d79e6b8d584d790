package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	appLog "calmonitor/internal/log"
)

// requestLogFormatter writes one app log line per request. Query strings
// are left out; the OAuth callback carries the authorization code there.
type requestLogFormatter struct{}

func (requestLogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &requestLogEntry{
		method:    r.Method,
		path:      r.URL.Path,
		remote:    r.RemoteAddr,
		requestID: middleware.GetReqID(r.Context()),
	}
}

type requestLogEntry struct {
	method    string
	path      string
	remote    string
	requestID string
}

func (e *requestLogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ any) {
	appLog.Info("http request",
		"method", e.method,
		"path", e.path,
		"status", status,
		"bytes", bytes,
		"elapsed", elapsed,
		"remote", e.remote,
		"request_id", e.requestID,
	)
}

func (e *requestLogEntry) Panic(v any, stack []byte) {
	appLog.Error("http handler panic", fmt.Errorf("%v", v),
		"method", e.method,
		"path", e.path,
		"request_id", e.requestID,
		"stack", string(stack),
	)
}
