package bgtask

import (
	"github.com/sirupsen/logrus"
	"github.com/stleox/apmtrace/pkg/config"
)

type MetaReloadTask struct {
	m *BgTaskManager
}

func (m *BgTaskManager) addMetaReloadTask() {
	m.bgTasks = append(m.bgTasks, &MetaReloadTask{m: m})
}

func (t *MetaReloadTask) Spec() string { return config.MetaReloadSpec }

// 全量更新
func (t *MetaReloadTask) Run() {
	t.m.meta.Reload()
	logrus.WithFields(logrus.Fields{
		"service":    t.m.meta.ServiceName(),
		"buildStamp": t.m.meta.BuildStamp(),
	}).Debug("apmtrace reloaded service metadata")
}
