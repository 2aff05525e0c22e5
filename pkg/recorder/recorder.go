package recorder

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stleox/apmtrace/pkg/config"
	"github.com/stleox/apmtrace/pkg/tracer"
	"go.uber.org/multierr"
)

// Recorder is a tracer.Recorder owning resources that must be released.
type Recorder interface {
	tracer.Recorder
	Close() error
}

// Recorder names accepted by config.KeyRecorder.
const (
	NameNoop    = "noop"
	NameConsole = "console"
	NameHTTP    = "http"
	NameOTel    = "otel"
	NameOlap    = "olap"
)

// NoOp drops every fragment.
type NoOp struct{}

func (NoOp) Record(*tracer.Span) {}
func (NoOp) Close() error        { return nil }

// Multi fans every root span out to all recorders.
type Multi []Recorder

func (m Multi) Record(root *tracer.Span) {
	for _, rec := range m {
		record(rec, root)
	}
}

// record isolates recorders from each other.
func record(rec Recorder, root *tracer.Span) {
	defer func() {
		if p := recover(); p != nil {
			logrus.WithFields(logrus.Fields{
				"recorder": fmt.Sprintf("%T", rec),
				"panic":    fmt.Sprint(p),
			}).Error("apmtrace recorder panicked")
		}
	}()
	rec.Record(root)
}

// Close closes every recorder and combines their errors.
func (m Multi) Close() error {
	var err error
	for _, rec := range m {
		err = multierr.Append(err, rec.Close())
	}
	return err
}

// New builds the recorders listed, comma separated, under config.KeyRecorder.
// Without a list, an HTTP recorder is used when config.KeyURI is set, else
// nothing is recorded.
func New(ctx context.Context, vp *viper.Viper) (Recorder, error) {
	names := splitNames(vp.GetString(config.KeyRecorder))
	if len(names) == 0 {
		if vp.GetString(config.KeyURI) == "" {
			return NoOp{}, nil
		}
		names = []string{NameHTTP}
	}

	recs := make(Multi, 0, len(names))
	for _, name := range names {
		rec, err := newByName(ctx, vp, name)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("creating %s recorder: %w", name, err), recs.Close())
		}
		recs = append(recs, rec)
	}
	logrus.WithField("recorders", names).Info("apmtrace created recorders")
	if len(recs) == 1 {
		return recs[0], nil
	}
	return recs, nil
}

func newByName(ctx context.Context, vp *viper.Viper, name string) (Recorder, error) {
	switch name {
	case NameNoop:
		return NoOp{}, nil
	case NameConsole:
		logger, err := config.NewJSONLogger("")
		if err != nil {
			return nil, err
		}
		return NewConsole(logger), nil
	case NameHTTP:
		uri := vp.GetString(config.KeyURI)
		if uri == "" {
			return nil, fmt.Errorf("%s is not set", config.KeyURI)
		}
		opts := make([]HTTPOption, 0, 1)
		if config.Debug {
			logger, err := config.NewJSONLogger(config.PathConsoleRecorder)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithConsole(NewConsole(logger)))
		}
		return NewHTTP(uri, vp.GetString(config.KeyUsername), vp.GetString(config.KeyPassword), opts...), nil
	case NameOTel:
		if target := vp.GetString(config.KeyOtelTarget); target != "" {
			return NewGRPCOTel(ctx, target)
		}
		return NewStdoutOTel()
	case NameOlap:
		dsn := vp.GetString(config.KeyOlapDSN)
		if dsn == "" {
			dsn = config.DefaultOlapDSN
		}
		return NewOlap(dsn)
	default:
		return nil, fmt.Errorf("unknown recorder %q", name)
	}
}

func splitNames(raw string) []string {
	ret := make([]string, 0)
	for _, name := range strings.Split(raw, ",") {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			ret = append(ret, name)
		}
	}
	return ret
}
