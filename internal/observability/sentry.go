package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry wires error reporting when a DSN is configured; without one the
// service runs with reporting disabled.
func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
		SendDefaultPII:   false,
	})
}

// FlushSentry drains pending events; called once at shutdown.
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
