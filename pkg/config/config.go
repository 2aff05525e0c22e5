package config

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	AppName = "apmtrace"
)

// for root
var (
	Debug = false
)

// for pkg tracer
var (
	// 同时存活（尚未上报）的本地 Trace 上限，超出后淘汰最旧者
	MaxOpenTraces = 4096
)

// for pkg recorder
var (
	// HTTP recorder 单批上报的 fragment 数量
	BatchFragment = 50
	// 不足一批时的刷新间隔
	FlushInterval = time.Second
	// 单次 POST 超时
	RecorderTimeout = 5 * time.Second

	// 默认 OLAP 连接（Doris 的 MySQL 协议端口）
	DefaultOlapDSN = "root:@tcp(127.0.0.1:9030)/apmtrace"
)

const (
	// DATETIME(6) 列的写入格式
	LayoutDate6 = "2006-01-02 15:04:05.000000"

	// 上报 fragment 的 HTTP 路径
	PathFragments = "/hawkular/apm/traces/fragments"
)

// for pkg bgtask
var (
	MetaReloadSpec = "@every 1m"
	OpenTracesSpec = "@every 30s"
)

// Viper keys, resolved against the HAWKULAR_APM_ env prefix.
const (
	KeyURI        = "uri"
	KeyUsername   = "username"
	KeyPassword   = "password"
	KeyRecorder   = "recorder"
	KeySampling   = "sampling"
	KeyOlapDSN    = "olap_dsn"
	KeyOtelTarget = "otel_target"
	KeyListen     = "listen"
)

// ApplyViper overrides the package knobs with values found in vp.
func ApplyViper(vp *viper.Viper) {
	if vp == nil {
		return
	}
	if vp.IsSet("max_open_traces") {
		MaxOpenTraces = vp.GetInt("max_open_traces")
	}
	if vp.IsSet("batch_fragment") {
		BatchFragment = vp.GetInt("batch_fragment")
	}
	if vp.IsSet("flush_interval") {
		FlushInterval = vp.GetDuration("flush_interval")
	}
	if vp.IsSet("recorder_timeout") {
		RecorderTimeout = vp.GetDuration("recorder_timeout")
	}
	initLogrus(vp)
	logrus.WithFields(logrus.Fields{
		"max_open_traces": MaxOpenTraces,
		"batch_fragment":  BatchFragment,
		"flush_interval":  FlushInterval,
	}).Debug("apmtrace applied configuration")
}
