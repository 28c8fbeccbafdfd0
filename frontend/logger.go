package frontend

import (
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// initLogger builds the agent's logger. With a sink, output goes there as
// console lines instead of JSON on stderr.
func initLogger(v Verbosity, sink io.Writer) (*zap.SugaredLogger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if v == Debug {
		level.SetLevel(zap.DebugLevel)
	}

	if sink != nil {
		enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		core := zapcore.NewCore(enc, zapcore.AddSync(sink), level)

		return zap.New(core).Sugar(), nil
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = level

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to get production zap logger: %w", err)
	}

	return l.Sugar(), nil
}
