package logger

import (
	"go.uber.org/zap"
)

var Log *zap.SugaredLogger

func init() {
	// Packages log during tests without going through Init.
	Log = zap.NewNop().Sugar()
}

func Init() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	Log = logger.Sugar()
}

// InitDevelopment swaps in a console-friendly logger for local runs.
func InitDevelopment() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	Log = logger.Sugar()
}

// Sync flushes any buffered entries on shutdown.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
