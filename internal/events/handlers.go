package events

import (
	"go.uber.org/zap"
)

// LogHandler returns a handler that logs every event through the given
// logger. Failure events log at warn, the rest at info.
func LogHandler(logger *zap.Logger) Handler {
	return func(e Event) {
		fields := []zap.Field{
			zap.String("type", string(e.Type)),
		}
		if e.Queue != "" {
			fields = append(fields, zap.String("queue", e.Queue))
		}
		if e.Branch != "" {
			fields = append(fields, zap.String("branch", e.Branch))
		}
		if e.Entry != "" {
			fields = append(fields, zap.String("entry", e.Entry))
		}
		if e.PR != nil {
			fields = append(fields, zap.Int("pr", *e.PR))
		}
		if e.Error != "" {
			fields = append(fields, zap.String("error", e.Error))
		}

		if e.IsFailure() {
			logger.Warn("event", fields...)
		} else {
			logger.Info("event", fields...)
		}
	}
}
