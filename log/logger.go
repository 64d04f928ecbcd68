package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerInstance *zap.Logger
)

// initLogger initializes structured JSON logger for production
func initLogger(level zapcore.Level) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := config.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	loggerInstance = logger
}

// SetLevel rebuilds the shared logger at the named level ("debug", "info", ...).
// Unknown names fall back to info.
func SetLevel(name string) *zap.Logger {
	level, err := zapcore.ParseLevel(name)
	if err != nil {
		level = zapcore.InfoLevel
	}
	initLogger(level)
	return loggerInstance
}

func GetInstance() *zap.Logger {
	if loggerInstance == nil {
		initLogger(zapcore.InfoLevel)
	}
	return loggerInstance
}
