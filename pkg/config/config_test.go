package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	r "github.com/stretchr/testify/require"
)

func TestApplyViper(t *testing.T) {
	oldMax, oldBatch, oldFlush, oldTimeout := MaxOpenTraces, BatchFragment, FlushInterval, RecorderTimeout
	defer func() {
		MaxOpenTraces, BatchFragment, FlushInterval, RecorderTimeout = oldMax, oldBatch, oldFlush, oldTimeout
		Debug = false
		initLogrus(nil)
	}()

	vp := viper.New()
	vp.Set("max_open_traces", 16)
	vp.Set("flush_interval", "250ms")
	Debug = true
	ApplyViper(vp)

	r.Equal(t, 16, MaxOpenTraces)
	r.Equal(t, 250*time.Millisecond, FlushInterval)
	r.Equal(t, oldBatch, BatchFragment)
	r.Equal(t, oldTimeout, RecorderTimeout)
	r.Equal(t, logrus.DebugLevel, logrus.GetLevel())
}

func TestApplyViper_Nil(t *testing.T) {
	old := MaxOpenTraces
	ApplyViper(nil)
	r.Equal(t, old, MaxOpenTraces)
}

func TestNewJSONLogger(t *testing.T) {
	logger, err := NewJSONLogger("")
	r.NoError(t, err)
	r.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	path := t.TempDir() + "/fragments.log.json"
	logger, err = NewJSONLogger(path)
	r.NoError(t, err)
	logger.Info("apmtrace test entry")
	r.FileExists(t, path)

	_, err = NewJSONLogger(t.TempDir() + "/missing/dir/log.json")
	r.Error(t, err)
}
