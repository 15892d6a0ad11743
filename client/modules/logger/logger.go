package logger

import (
	"fmt"

	"go.uber.org/zap"
)

type Logger interface {
	Log(format string, args ...interface{})
}

type baseLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger returns a console logger named after the owning component.
// Services never construct loggers themselves; the provider hands one out.
func NewLogger(tag string) Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	return &baseLogger{sugar: l.Sugar().Named(tag)}
}

func (l *baseLogger) Log(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}
