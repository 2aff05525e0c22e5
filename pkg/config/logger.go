package config

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// for Log

func initLogrus(_ *viper.Viper) {
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		TimestampFormat: time.DateTime,
	})
	if Debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// NewJSONLogger returns a logger writing JSON entries to path, or to stdout
// when path is empty.
func NewJSONLogger(path string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.DateTime,
	})
	logger.SetLevel(logrus.InfoLevel)
	if path == "" {
		logger.SetOutput(os.Stdout)
		return logger, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(f)
	return logger, nil
}

const (
	PathConsoleRecorder = "/tmp/apmtrace_fragments.log.json"
)

func init() {
	initLogrus(nil)
}
