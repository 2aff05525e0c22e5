package bgtask

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stleox/apmtrace/pkg/config"
	"github.com/stleox/apmtrace/pkg/meta"
	"github.com/stleox/apmtrace/pkg/tracer"
	r "github.com/stretchr/testify/require"
)

func TestNewBgTaskManager(t *testing.T) {
	tests := []struct {
		name   string
		tracer *tracer.Tracer
		meta   *meta.Reloadable
		want   int
	}{
		{name: "none"},
		{name: "tracer only", tracer: tracer.New(), want: 1},
		{name: "both", tracer: tracer.New(), meta: mockReloadable(), want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewBgTaskManager(tt.tracer, tt.meta)
			r.Len(t, m.Tasks(), tt.want)
		})
	}
}

func TestMetaReloadTask_Run(t *testing.T) {
	md := mockReloadable()
	r.Equal(t, "svc-1", md.ServiceName())

	m := NewBgTaskManager(nil, md)
	r.Len(t, m.Tasks(), 1)
	task := m.Tasks()[0]
	r.Equal(t, config.MetaReloadSpec, task.Spec())

	task.Run()
	r.Equal(t, "svc-2", md.ServiceName())
	r.Equal(t, "ns.svc-2", md.BuildStamp())
}

func TestOpenTracesTask_Run(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()
	logrus.SetLevel(logrus.DebugLevel)
	defer logrus.SetLevel(logrus.InfoLevel)

	old := config.MaxOpenTraces
	config.MaxOpenTraces = 2
	defer func() { config.MaxOpenTraces = old }()

	tr := tracer.New()
	m := NewBgTaskManager(tr, nil)
	task := m.Tasks()[0]
	r.Equal(t, config.OpenTracesSpec, task.Spec())

	a := tr.StartSpan("a")
	task.Run()
	r.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
	r.Equal(t, 1, hook.LastEntry().Data["open"])

	b := tr.StartSpan("b")
	task.Run()
	r.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	r.Equal(t, 2, hook.LastEntry().Data["open"])
	r.Equal(t, 1, hook.LastEntry().Data["delta"])

	a.Finish()
	b.Finish()
	task.Run()
	r.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
	r.Equal(t, 0, hook.LastEntry().Data["open"])
}

func TestBgTaskManager_StartStop(t *testing.T) {
	old := config.MetaReloadSpec
	config.MetaReloadSpec = "@every 1s"
	defer func() { config.MetaReloadSpec = old }()

	md := mockReloadable()
	m := NewBgTaskManager(nil, md)
	m.StartAll()
	r.Eventually(t, func() bool {
		return md.ServiceName() != "svc-1"
	}, 3*time.Second, 20*time.Millisecond)

	select {
	case <-m.StopAll().Done():
	case <-time.After(time.Second):
		t.Fatal("running tasks did not stop")
	}
}

func TestBgTaskManager_BadSpec(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	old := config.OpenTracesSpec
	config.OpenTracesSpec = "every now and then"
	defer func() { config.OpenTracesSpec = old }()

	m := NewBgTaskManager(tracer.New(), nil)
	m.StartAll()
	<-m.StopAll().Done()
	r.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	r.Equal(t, "apmtrace couldn't add background task", hook.LastEntry().Message)
}

// mockReloadable 每次 Reload 返回递增的 service 名
func mockReloadable() *meta.Reloadable {
	var n atomic.Int32
	return meta.NewReloadable(
		func() string { return fmt.Sprintf("svc-%d", n.Add(1)) },
		func() string { return meta.BuildStamp("ns", fmt.Sprintf("svc-%d", n.Load())) },
	)
}
