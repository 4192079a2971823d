package kit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RequestID assigns a fresh request id unless the context carries one.
func RequestID() Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, request any) (any, error) {
			if GetRequestID(ctx) == "" {
				ctx = WithRequestID(ctx, uuid.NewString())
			}
			return next(ctx, request)
		}
	}
}

// Logging logs every call of the endpoint named name: failures at warn
// level, successes at debug.
func Logging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, request any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, request)
			attrs := []any{
				"endpoint", name,
				"transport", GetTransport(ctx),
				"request_id", GetRequestID(ctx),
				"elapsed", time.Since(start).Round(time.Microsecond),
			}
			if err != nil {
				logger.Warn("endpoint failed", append(attrs, "error", err)...)
				return resp, err
			}
			logger.Debug("endpoint served", attrs...)
			return resp, nil
		}
	}
}
