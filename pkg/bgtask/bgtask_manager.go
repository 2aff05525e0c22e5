package bgtask

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/stleox/apmtrace/pkg/meta"
	"github.com/stleox/apmtrace/pkg/tracer"
)

// BgTaskManager manages background periodical tasks.
// Includes:
// - Reload service metadata
// - Watch open traces of the tracer
type BgTaskManager struct {
	bgTasks []BgTask
	cron    *cron.Cron
	tracer  *tracer.Tracer
	meta    *meta.Reloadable
}

type BgTask interface {
	cron.Job
	Spec() string
}

// NewBgTaskManager 按入参决定登记哪些任务，nil 的依赖对应的任务不登记
func NewBgTaskManager(t *tracer.Tracer, md *meta.Reloadable) *BgTaskManager {
	m := &BgTaskManager{
		bgTasks: make([]BgTask, 0),
		cron:    cron.New(),
		tracer:  t,
		meta:    md,
	}
	if md != nil {
		m.addMetaReloadTask()
	}
	if t != nil {
		m.addOpenTracesTask()
	}
	return m
}

func (m *BgTaskManager) Tasks() []BgTask {
	return m.bgTasks
}

func (m *BgTaskManager) StartAll() {
	for _, task := range m.bgTasks {
		if _, err := m.cron.AddJob(task.Spec(), task); err != nil {
			logrus.WithError(err).WithField("spec", task.Spec()).
				Warn("apmtrace couldn't add background task")
		}
	}
	m.cron.Start()
}

// StopAll 停止调度，返回的 ctx 在运行中的任务结束后 Done
func (m *BgTaskManager) StopAll() context.Context {
	return m.cron.Stop()
}
