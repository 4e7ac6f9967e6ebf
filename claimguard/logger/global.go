package logger

import (
	"log/slog"
	"time"
)

// LogClaim logs a claim pipeline outcome
func LogClaim(userID int64, amount float64, duration time.Duration, err error) {
	attrs := []any{
		slog.String("type", "claim"),
		slog.Int64("user_id", userID),
		slog.Float64("amount", amount),
		slog.Duration("took", duration),
	}

	if err != nil {
		slog.Error("Claim failed", append(attrs, slog.Any("error", err))...)
	} else {
		slog.Info("Claim processed", attrs...)
	}
}

// LogSecurity logs security gate decisions
func LogSecurity(msg string, userID int64, attrs ...any) {
	baseAttrs := []any{
		slog.String("type", "security"),
		slog.Int64("user_id", userID),
	}
	slog.Warn(msg, append(baseAttrs, attrs...)...)
}

// LogQuery logs database operations
func LogQuery(query string, duration time.Duration, err error) {
	attrs := []any{
		slog.String("type", "db"),
		slog.Duration("took", duration),
	}

	if err != nil {
		slog.Error("Query failed", append(attrs,
			slog.String("query", query),
			slog.Any("error", err),
		)...)
	} else {
		slog.Info("Query executed", append(attrs,
			slog.String("query", query),
		)...)
	}
}

// LogSystem logs system events
func LogSystem(msg string, attrs ...any) {
	baseAttrs := []any{slog.String("type", "sys")}
	slog.Info(msg, append(baseAttrs, attrs...)...)
}

// LogError logs error events
func LogError(msg string, err error, attrs ...any) {
	baseAttrs := []any{
		slog.String("type", "error"),
		slog.Any("error", err),
	}
	slog.Error(msg, append(baseAttrs, attrs...)...)
}
