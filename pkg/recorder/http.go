package recorder

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stleox/apmtrace/pkg/config"
	"github.com/stleox/apmtrace/pkg/tracer"
	"github.com/zeromicro/go-zero/core/executors"
	"github.com/zeromicro/go-zero/rest/httpc"
)

// HTTP posts fragments in batches to a Hawkular APM server. Delivery is best
// effort: failures are logged and the batch is dropped.
type HTTP struct {
	endpoint string
	username string
	password string
	timeout  time.Duration

	batch    int
	interval time.Duration
	executor *executors.BulkExecutor

	console *Console
	do      func(*http.Request) (*http.Response, error)
}

type HTTPOption func(*HTTP)

// WithConsole echoes every recorded root span to c.
func WithConsole(c *Console) HTTPOption {
	return func(h *HTTP) {
		h.console = c
	}
}

// WithBatch overrides config.BatchFragment and config.FlushInterval.
func WithBatch(size int, interval time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.batch = size
		h.interval = interval
	}
}

func WithTimeout(timeout time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.timeout = timeout
	}
}

// NewHTTP posts to <uri>/hawkular/apm/traces/fragments with basic auth.
func NewHTTP(uri, username, password string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		endpoint: strings.TrimSuffix(uri, "/") + config.PathFragments,
		username: username,
		password: password,
		timeout:  config.RecorderTimeout,
		batch:    config.BatchFragment,
		interval: config.FlushInterval,
		do:       httpc.DoRequest,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.executor = executors.NewBulkExecutor(h.send,
		executors.WithBulkTasks(h.batch),
		executors.WithBulkInterval(h.interval))
	return h
}

func (h *HTTP) Record(root *tracer.Span) {
	if root == nil {
		return
	}
	if h.console != nil {
		h.console.Record(root)
	}
	if err := h.executor.Add(root.Fragment()); err != nil {
		logrus.WithError(err).Warn("apmtrace couldn't queue fragment")
	}
}

// Close sends what is still queued and waits for in-flight batches.
func (h *HTTP) Close() error {
	h.executor.Flush()
	h.executor.Wait()
	return nil
}

func (h *HTTP) send(tasks []any) {
	fragments := make([]*tracer.Fragment, 0, len(tasks))
	for _, task := range tasks {
		fragments = append(fragments, task.(*tracer.Fragment))
	}
	body, err := tracer.MarshalFragments(fragments)
	if err != nil {
		logrus.WithError(err).Error("apmtrace couldn't marshal fragments")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		logrus.WithError(err).Error("apmtrace couldn't build fragments request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(h.username, h.password)

	resp, err := h.do(req)
	if err != nil {
		logrus.WithError(err).WithField("endpoint", h.endpoint).Warn("apmtrace couldn't report fragments")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent {
		logrus.WithFields(logrus.Fields{
			"endpoint": h.endpoint,
			"status":   resp.StatusCode,
		}).Warn("apmtrace server did not accept fragments")
		return
	}
	logrus.WithField("fragments", len(fragments)).Debug("apmtrace reported fragments")
}
