package demo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stleox/apmtrace/pkg/bgtask"
	"github.com/stleox/apmtrace/pkg/config"
	"github.com/stleox/apmtrace/pkg/meta"
	"github.com/stleox/apmtrace/pkg/recorder"
	"github.com/stleox/apmtrace/pkg/sampler"
	"github.com/stleox/apmtrace/pkg/tracer"
	"github.com/zeromicro/go-zero/rest/httpc"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	demoOpts struct {
		requests int
		interval time.Duration
		txn      string
	}

	demoFlags = pflag.NewFlagSet("demo", pflag.ContinueOnError)
)

func init() {
	demoFlags.String(config.KeyListen, "127.0.0.1:0", "Address the order service listens on")
	demoFlags.IntVar(&demoOpts.requests, "requests", 1, "Number of orders placed by the client")
	demoFlags.DurationVar(&demoOpts.interval, "interval", 0, "Pause between two orders")
	demoFlags.StringVar(&demoOpts.txn, "transaction", "place-order", "Business transaction name of the client spans")
}

const (
	opPlaceOrder = "place-order"
	opCallOrders = "call-order-service"
	pathOrder    = "/orders/{id}"
	pathMetrics  = "/metrics"
)

type Order struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// NewRouter serves orders. Each request becomes a Consumer span continuing
// the trace found in its headers.
func NewRouter(tr *tracer.Tracer, reg *prometheus.Registry) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc(pathOrder, handleOrder(tr)).Methods(http.MethodGet)
	if reg != nil {
		router.Handle(pathMetrics, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return router
}

func handleOrder(tr *tracer.Tracer) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		opts := tracer.SpanOptions{
			Tags: map[string]interface{}{
				tracer.TagHTTPMethod: req.Method,
				tracer.TagHTTPURL:    "http://" + req.Host + req.URL.RequestURI(),
				tracer.TagComponent:  "gorilla/mux",
			},
		}
		if parent, err := tr.Extract(opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(req.Header)); err == nil {
			opts.ChildOf = parent
		} else {
			logrus.WithError(err).Warn("apmtrace couldn't extract request headers")
		}
		span := tr.StartSpanWithOptions("", opts)
		defer span.Finish()

		id := mux.Vars(req)["id"]
		span.SetTag("order.id", id)

		data, err := json.Marshal(Order{ID: id, Status: "confirmed"})
		if err != nil {
			span.SetTag("error", true)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		span.SetTag("http.status_code", http.StatusOK)
		_, _ = w.Write(data)
	}
}

// PlaceOrder is the client half: a root span with one outbound call whose
// context travels in the request headers.
func PlaceOrder(ctx context.Context, tr *tracer.Tracer, baseURL, id, txn string) (*Order, error) {
	root := tr.StartSpanWithOptions(opPlaceOrder, tracer.SpanOptions{
		Tags: map[string]interface{}{tracer.TagTransaction: txn, "order.id": id},
	})
	defer root.Finish()

	url := baseURL + "/orders/" + id
	out := tr.StartSpanWithOptions(opCallOrders, tracer.SpanOptions{
		ChildOf: root.Context(),
		Tags: map[string]interface{}{
			tracer.TagHTTPMethod: http.MethodGet,
			tracer.TagHTTPURL:    url,
		},
	})
	defer out.Finish()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if err := tr.Inject(out.Context(), opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(req.Header)); err != nil {
		return nil, fmt.Errorf("injecting headers: %w", err)
	}

	resp, err := httpc.DoRequest(req)
	if err != nil {
		out.SetTag("error", true)
		return nil, err
	}
	defer resp.Body.Close()
	out.SetTag("http.status_code", resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		out.SetTag("error", true)
		return nil, fmt.Errorf("order service answered %s", resp.Status)
	}

	var ret Order
	if err := json.NewDecoder(resp.Body).Decode(&ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func New(vp *viper.Viper) *cobra.Command {
	demo := &cobra.Command{
		Use:   "demo",
		Short: "Run a traced order client and server in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			// init main context of `demo`
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			// init recorder
			rec, err := recorder.New(ctx, vp)
			if err != nil {
				return err
			}
			defer func() {
				if err := rec.Close(); err != nil {
					logrus.WithError(err).Error("apmtrace couldn't close recorder")
				}
			}()

			// init tracer
			md := meta.FromEnv(vp)
			tr := tracer.New(
				tracer.WithRecorder(rec),
				tracer.WithSampler(sampler.FromConfig(vp)),
				tracer.WithMetadata(md),
			)
			opentracing.SetGlobalTracer(tr)
			reg := prometheus.NewRegistry()
			reg.MustRegister(tr.Metrics()...)

			// init bgTaskManager
			bgTaskManager := bgtask.NewBgTaskManager(tr, md)
			bgTaskManager.StartAll()
			defer bgTaskManager.StopAll()

			// serve orders
			ln, err := net.Listen("tcp", vp.GetString(config.KeyListen))
			if err != nil {
				return err
			}
			srv := &http.Server{Handler: NewRouter(tr, reg)}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logrus.WithError(err).Error("apmtrace demo server stopped")
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			baseURL := "http://" + ln.Addr().String()
			logrus.WithField("url", baseURL).Info("apmtrace demo server started")

			// place orders
			for i := 0; i < demoOpts.requests; i++ {
				o, err := PlaceOrder(ctx, tr, baseURL, fmt.Sprint(i+1), demoOpts.txn)
				if err != nil {
					return err
				}
				logrus.WithFields(logrus.Fields{
					"order":  o.ID,
					"status": o.Status,
				}).Info("apmtrace demo placed order")

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(demoOpts.interval):
				}
			}
			logrus.WithField("open_traces", tr.OpenTraces()).Info("apmtrace demo finished")
			return nil
		},
	}
	demo.Flags().AddFlagSet(demoFlags)
	return demo
}
