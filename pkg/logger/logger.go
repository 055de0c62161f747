package logger

import (
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

func GetLogger() *zap.Logger {

	if logger != nil {
		return logger
	}

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.development", false)

	level, err := zapcore.ParseLevel(viper.GetString("logging.level"))
	if err != nil {
		level = zapcore.InfoLevel
	}

	var cfg zap.Config
	if viper.GetBool("logging.development") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err = cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}

	return logger
}
