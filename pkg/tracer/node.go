package tracer

import (
	"time"
)

const noParent = -1

// Node is one entry of a Trace. A node either wraps a real span or is
// synthetic: it has no span and uses the override fields instead.
type Node struct {
	trace *Trace

	span    *Span
	typ     NodeType
	corrIDs []CorrelationID

	idx      int
	parent   int
	pos      int
	children []int

	// synthetic node overrides
	operation string
	uri       string
	timestamp time.Time
	// 插入前挂载的子节点，仅合成节点使用
	pending []*Node
}

// NewNode returns a detached node wrapping span.
func NewNode(span *Span, typ NodeType, corrIDs []CorrelationID) *Node {
	return &Node{
		span:    span,
		typ:     typ,
		corrIDs: append([]CorrelationID(nil), corrIDs...),
		idx:     noParent,
		parent:  noParent,
	}
}

// NewSyntheticNode returns a detached node without a backing span.
func NewSyntheticNode(typ NodeType, corrIDs []CorrelationID) *Node {
	return NewNode(nil, typ, corrIDs)
}

// AddChild attaches child below a node that has not been inserted yet.
func (n *Node) AddChild(child *Node) {
	n.pending = append(n.pending, child)
}

func (n *Node) SetOperation(operation string) { n.operation = operation }
func (n *Node) SetURI(uri string)             { n.uri = uri }
func (n *Node) SetTimestamp(ts time.Time)     { n.timestamp = ts }

func (n *Node) lock() func() {
	if n.trace == nil {
		return func() {}
	}
	n.trace.mu.Lock()
	return n.trace.mu.Unlock
}

// Span returns the backing span, nil for synthetic nodes.
func (n *Node) Span() *Span {
	return n.span
}

// IsSynthetic reports whether the node has no backing span.
func (n *Node) IsSynthetic() bool {
	return n.span == nil
}

func (n *Node) Type() NodeType {
	defer n.lock()()
	return n.typ
}

func (n *Node) CorrelationIDs() []CorrelationID {
	defer n.lock()()
	return append([]CorrelationID(nil), n.corrIDs...)
}

// Children returns the direct children in insertion order.
func (n *Node) Children() []*Node {
	defer n.lock()()
	if n.trace == nil {
		return append([]*Node(nil), n.pending...)
	}
	ret := make([]*Node, 0, len(n.children))
	for _, i := range n.children {
		ret = append(ret, n.trace.nodes[i])
	}
	return ret
}

// Operation returns the override for synthetic nodes, else the derived one.
func (n *Node) Operation() string {
	if n.operation != "" || n.span == nil {
		return n.operation
	}
	return DeriveOperation(n.span.OperationName(), n.span.Tags())
}

// URI returns the override for synthetic nodes, else the derived one.
func (n *Node) URI() string {
	if n.uri != "" || n.span == nil {
		return n.uri
	}
	return DeriveURL(n.span.Tags())
}

func (n *Node) Timestamp() time.Time {
	if !n.timestamp.IsZero() || n.span == nil {
		return n.timestamp
	}
	return n.span.StartTime()
}

func (n *Node) Duration() time.Duration {
	if n.span == nil {
		return 0
	}
	return n.span.Duration()
}

func (n *Node) spanID() string {
	if n.span == nil {
		return ""
	}
	return n.span.context.spanID
}
