// Package logging builds the zap logger used by the job and carries it in
// context so every component logs with the same run fields.
package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
)

// NewLogger returns a production JSON logger, or a development logger when
// SESSIONIZE_DEBUG=true.
func NewLogger() *zap.SugaredLogger {
	var config zap.Config
	if debugMode, ok := os.LookupEnv("SESSIONIZE_DEBUG"); ok && debugMode == "true" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.OutputPaths = []string{"stderr"}
	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger.Named("sessionize").Sugar()
}

type loggerKey struct{}

// WithLogger returns a copy of parent in which the logger is attached.
func WithLogger(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger in the context, or a no-op logger when none
// was attached.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.SugaredLogger); ok {
		return logger
	}
	return zap.NewNop().Sugar()
}
