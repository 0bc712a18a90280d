package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/safetransit/pkg/logger"
)

// schedulerLogger routes gocron's internal logging onto the service logger.
type schedulerLogger struct {
	logg *logger.Logger
	ctx  context.Context
}

func newSchedulerLogger(logg *logger.Logger, ctx context.Context) *schedulerLogger {
	return &schedulerLogger{logg: logg, ctx: logg.WithField(ctx, "component", "gocron")}
}

func (l *schedulerLogger) Debug(msg string, args ...any) {
	l.logg.Debug(l.with(args), msg)
}

func (l *schedulerLogger) Info(msg string, args ...any) {
	l.logg.Info(l.with(args), msg)
}

func (l *schedulerLogger) Warn(msg string, args ...any) {
	l.logg.Warn(l.with(args), msg)
}

func (l *schedulerLogger) Error(msg string, args ...any) {
	var err error
	rest := make([]any, 0, len(args))
	for _, arg := range args {
		if e, ok := arg.(error); ok && err == nil {
			err = e
			continue
		}
		rest = append(rest, arg)
	}
	l.logg.Error(l.with(rest), msg, err)
}

// with turns alternating key/value args into log fields.
func (l *schedulerLogger) with(args []any) context.Context {
	if len(args) == 0 {
		return l.ctx
	}
	fields := make(map[string]any, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 >= len(args) {
			fields["extra"] = key
			break
		}
		fields[key] = args[i+1]
	}
	return l.logg.WithFields(l.ctx, fields)
}
