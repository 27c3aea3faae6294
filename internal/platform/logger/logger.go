package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. JSON output so aggregation
// can index the reconciliation fields (merchant_order_id, source, status).
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
