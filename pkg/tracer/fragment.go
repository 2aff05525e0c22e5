package tracer

import (
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stleox/apmtrace/pkg/meta"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Property names added to top-level nodes from deployment metadata.
const (
	PropertyService    = "service"
	PropertyBuildStamp = "buildStamp"
)

// Fragment is the backend representation of one reported local root.
// Timestamps and durations are microseconds.
type Fragment struct {
	TraceID     string          `json:"traceId"`
	FragmentID  string          `json:"fragmentId"`
	Transaction string          `json:"transaction,omitempty"`
	Timestamp   int64           `json:"timestamp"`
	Nodes       []*FragmentNode `json:"nodes"`
}

type FragmentNode struct {
	Type           NodeType        `json:"type"`
	URI            string          `json:"uri,omitempty"`
	Operation      string          `json:"operation,omitempty"`
	Timestamp      int64           `json:"timestamp"`
	Duration       int64           `json:"duration"`
	Properties     []Property      `json:"properties,omitempty"`
	CorrelationIDs []CorrelationID `json:"correlationIds,omitempty"`
	ComponentType  string          `json:"componentType,omitempty"`
	EndpointType   string          `json:"endpointType,omitempty"`
	Nodes          []*FragmentNode `json:"nodes,omitempty"`
}

// Marshal renders the fragment as JSON.
func (f *Fragment) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

// MarshalFragments renders a batch, the body the backend accepts.
func MarshalFragments(fs []*Fragment) ([]byte, error) {
	return json.Marshal(fs)
}

// Fragment snapshots the subtree holding root, starting from its top-level
// ancestor so a synthetic join node above root is kept. md may be nil.
func (t *Trace) Fragment(root *Span, md meta.Provider) *Fragment {
	f := &Fragment{
		TraceID:     root.TraceID(),
		FragmentID:  root.SpanID(),
		Transaction: root.context.Transaction(),
		Timestamp:   micros(root.StartTime()),
		Nodes:       make([]*FragmentNode, 0, 1),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.findIdx(root.context.spanID)
	if idx == noParent {
		return f
	}
	for t.nodes[idx].parent != noParent {
		idx = t.nodes[idx].parent
	}

	top := toFragmentNode(t.nodes[idx])
	addMetadata(top, md)
	f.Nodes = append(f.Nodes, top)

	type item struct {
		idx int
		out *FragmentNode
	}
	stack := []item{{idx, top}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		children := t.nodes[it.idx].children
		if len(children) == 0 {
			continue
		}
		it.out.Nodes = make([]*FragmentNode, 0, len(children))
		for _, c := range children {
			fn := toFragmentNode(t.nodes[c])
			it.out.Nodes = append(it.out.Nodes, fn)
			stack = append(stack, item{c, fn})
		}
	}
	return f
}

// toFragmentNode converts a single node without its children. Caller holds
// the trace lock.
func toFragmentNode(n *Node) *FragmentNode {
	fn := &FragmentNode{
		Type:      n.typ,
		Operation: n.Operation(),
		URI:       n.URI(),
		Timestamp: micros(n.Timestamp()),
		Duration:  n.Duration().Microseconds(),
	}
	if len(n.corrIDs) > 0 {
		fn.CorrelationIDs = append([]CorrelationID(nil), n.corrIDs...)
	}
	if n.span == nil {
		return fn
	}

	tags := n.span.Tags()
	fn.Properties = TagsToProperties(tags)
	switch n.typ {
	case NodeConsumer, NodeProducer:
		fn.EndpointType = DeriveEndpointType(tags)
	default:
		fn.ComponentType = DeriveComponentType(tags)
	}
	return fn
}

func addMetadata(fn *FragmentNode, md meta.Provider) {
	if md == nil {
		return
	}
	has := make(map[string]bool, len(fn.Properties))
	for _, p := range fn.Properties {
		has[p.Name] = true
	}
	add := func(name, value string) {
		if value != "" && !has[name] {
			fn.Properties = append(fn.Properties, Property{Name: name, Value: value, Type: PropertyText})
		}
	}
	add(PropertyService, md.ServiceName())
	add(PropertyBuildStamp, md.BuildStamp())
	sort.Slice(fn.Properties, func(i, j int) bool { return fn.Properties[i].Name < fn.Properties[j].Name })
}

func micros(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.UnixMicro()
}

// Fragment snapshots the trace of s with s as the reported root.
func (s *Span) Fragment() *Fragment {
	trace := s.context.trace
	if trace == nil {
		return &Fragment{TraceID: s.TraceID(), FragmentID: s.SpanID(), Timestamp: micros(s.StartTime())}
	}
	return trace.Fragment(s, s.tracer.metadata)
}
