package bgtask

import (
	"github.com/sirupsen/logrus"
	"github.com/stleox/apmtrace/pkg/config"
)

// 超过上限的该比例即告警
const openTracesWarnRatio = 0.9

type OpenTracesTask struct {
	m    *BgTaskManager
	last int
}

func (m *BgTaskManager) addOpenTracesTask() {
	m.bgTasks = append(m.bgTasks, &OpenTracesTask{m: m})
}

func (t *OpenTracesTask) Spec() string { return config.OpenTracesSpec }

func (t *OpenTracesTask) Run() {
	open := t.m.tracer.OpenTraces()
	entry := logrus.WithFields(logrus.Fields{
		"open":  open,
		"delta": open - t.last,
		"limit": config.MaxOpenTraces,
	})
	t.last = open
	if config.MaxOpenTraces > 0 && float64(open) >= openTracesWarnRatio*float64(config.MaxOpenTraces) {
		entry.Warn("apmtrace has too many open traces, spans may never be finished")
		return
	}
	entry.Debug("apmtrace open traces")
}
