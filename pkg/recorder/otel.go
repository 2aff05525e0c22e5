package recorder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stleox/apmtrace/pkg/config"
	"github.com/stleox/apmtrace/pkg/tracer"
	attr "go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktr "go.opentelemetry.io/otel/sdk/trace"
	tr "go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Attribute keys set on bridged spans.
const (
	AttrTraceID        = "apm.trace_id"
	AttrFragmentID     = "apm.fragment_id"
	AttrNodeType       = "apm.node_type"
	AttrURI            = "apm.uri"
	AttrComponentType  = "apm.component_type"
	AttrEndpointType   = "apm.endpoint_type"
	AttrCorrelationIDs = "apm.correlation_ids"
	attrPropertyPrefix = "apm.property."
)

// OTel replays fragments as OpenTelemetry spans, one span per node.
type OTel struct {
	provider *sdktr.TracerProvider
	tracer   tr.Tracer
}

func NewGRPCOTel(ctx context.Context, target string) (*OTel, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(target),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, fmt.Errorf("creating gRPC exporter: %w", err)
	}
	return newOTel(sdktr.NewTracerProvider(
		sdktr.WithBatcher(exporter),
		sdktr.WithResource(resource.NewSchemaless(attr.String("service.name", config.AppName))))), nil
}

func NewStdoutOTel() (*OTel, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("creating stdout exporter: %w", err)
	}
	return newOTel(sdktr.NewTracerProvider(
		sdktr.WithBatcher(exporter),
		sdktr.WithResource(resource.Empty()))), nil
}

func newOTel(provider *sdktr.TracerProvider) *OTel {
	return &OTel{
		provider: provider,
		tracer:   provider.Tracer(config.AppName),
	}
}

func (o *OTel) Record(root *tracer.Span) {
	f := root.Fragment()

	ctx := context.Background()
	// fragment 共享 trace id 时，在 OTel 侧也落到同一条 trace 上
	if parent, ok := remoteParent(f); ok {
		ctx = tr.ContextWithRemoteSpanContext(ctx, parent)
	}

	type item struct {
		ctx  context.Context
		node *tracer.FragmentNode
	}
	stack := make([]item, 0, len(f.Nodes))
	for i := len(f.Nodes) - 1; i >= 0; i-- {
		stack = append(stack, item{ctx, f.Nodes[i]})
	}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := it.node
		start := time.UnixMicro(n.Timestamp)
		spanCtx, span := o.tracer.Start(it.ctx, n.Operation,
			tr.WithTimestamp(start),
			tr.WithSpanKind(spanKind(n.Type)),
			tr.WithAttributes(nodeAttributes(f, n)...))
		span.End(tr.WithTimestamp(start.Add(time.Duration(n.Duration) * time.Microsecond)))

		for i := len(n.Nodes) - 1; i >= 0; i-- {
			stack = append(stack, item{spanCtx, n.Nodes[i]})
		}
	}
}

// Close flushes and stops the provider.
func (o *OTel) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), config.RecorderTimeout)
	defer cancel()
	if err := o.provider.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("apmtrace couldn't shut down tracer provider")
		return err
	}
	return nil
}

func spanKind(typ tracer.NodeType) tr.SpanKind {
	switch typ {
	case tracer.NodeConsumer:
		return tr.SpanKindServer
	case tracer.NodeProducer:
		return tr.SpanKindClient
	default:
		return tr.SpanKindInternal
	}
}

func nodeAttributes(f *tracer.Fragment, n *tracer.FragmentNode) []attr.KeyValue {
	kvs := []attr.KeyValue{
		attr.String(AttrTraceID, f.TraceID),
		attr.String(AttrFragmentID, f.FragmentID),
		attr.String(AttrNodeType, string(n.Type)),
	}
	if n.URI != "" {
		kvs = append(kvs, attr.String(AttrURI, n.URI))
	}
	if n.ComponentType != "" {
		kvs = append(kvs, attr.String(AttrComponentType, n.ComponentType))
	}
	if n.EndpointType != "" {
		kvs = append(kvs, attr.String(AttrEndpointType, n.EndpointType))
	}
	if len(n.CorrelationIDs) > 0 {
		ids := make([]string, 0, len(n.CorrelationIDs))
		for _, c := range n.CorrelationIDs {
			ids = append(ids, string(c.Scope)+"|"+c.Value)
		}
		kvs = append(kvs, attr.StringSlice(AttrCorrelationIDs, ids))
	}
	for _, p := range n.Properties {
		key := attrPropertyPrefix + p.Name
		switch v := p.Value.(type) {
		case float64:
			kvs = append(kvs, attr.Float64(key, v))
		default:
			kvs = append(kvs, attr.String(key, fmt.Sprint(v)))
		}
	}
	return kvs
}

// remoteParent maps UUID shaped trace and fragment ids onto OTel ids.
func remoteParent(f *tracer.Fragment) (tr.SpanContext, bool) {
	traceID, err := convertTraceID(f.TraceID)
	if err != nil {
		return tr.SpanContext{}, false
	}
	spanID, err := convertSpanID(f.FragmentID)
	if err != nil {
		return tr.SpanContext{}, false
	}
	return tr.NewSpanContext(tr.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: tr.FlagsSampled,
		Remote:     true,
	}), true
}

// demo input: "00000000-0000-0000-0000-00000000000a"
// demo output: "0000000000000000000000000000000a"
func convertTraceID(uuid string) (tr.TraceID, error) {
	return tr.TraceIDFromHex(strings.ReplaceAll(uuid, "-", ""))
}

// demo input: "00000000-0000-0000-0000-00000000000a"
// demo output: "000000000000000a"
func convertSpanID(uuid string) (tr.SpanID, error) {
	if len(uuid) == 36 {
		uuid = uuid[:8] + uuid[28:]
	}
	return tr.SpanIDFromHex(uuid)
}
