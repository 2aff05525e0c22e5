package tracer

import (
	"strconv"
	"strings"
	"sync"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"
)

// Trace is the tree of all locally observed nodes of one trace. It is shared by
// every SpanContext of the trace; all reads and writes go through mu.
type Trace struct {
	mu sync.Mutex

	// node arena, addressed by Node.idx
	nodes []*Node
	// top-level node indices, in insertion order
	roots []int

	// local root span id -> already handed to the recorder
	reported map[string]bool
}

// NewTrace returns an empty trace.
func NewTrace() *Trace {
	return &Trace{
		nodes:    make([]*Node, 0),
		roots:    make([]int, 0),
		reported: make(map[string]bool),
	}
}

// AddNode wraps span into a new node placed under the node of the span's
// parent id, or at top level when that parent is not part of this trace.
func (t *Trace) AddNode(typ NodeType, span *Span, corrIDs []CorrelationID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := span.context.spanID
	if t.findIdx(id) != noParent {
		logrus.WithField("span_id", id).Error("apmtrace couldn't add node: span already in trace")
		return
	}
	t.insert(NewNode(span, typ, corrIDs), t.findIdx(span.context.parentID))
}

// AddSyntheticNode inserts node, and any children attached to it with
// AddChild, under the node of parentID or at top level.
func (t *Trace) AddSyntheticNode(node *Node, parentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent := noParent
	if parentID != "" {
		parent = t.findIdx(parentID)
	}

	type item struct {
		n      *Node
		parent int
	}
	stack := []item{{node, parent}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id := it.n.spanID(); id != "" && t.findIdx(id) != noParent {
			logrus.WithField("span_id", id).Error("apmtrace couldn't add node: span already in trace")
			continue
		}
		idx := t.insert(it.n, it.parent)
		pending := it.n.pending
		it.n.pending = nil
		// 逆序压栈，保证子节点按挂载顺序插入
		for i := len(pending) - 1; i >= 0; i-- {
			stack = append(stack, item{pending[i], idx})
		}
	}
}

// insert appends n to the arena below parent. Caller holds mu.
func (t *Trace) insert(n *Node, parent int) int {
	n.trace = t
	n.idx = len(t.nodes)
	n.parent = parent
	t.nodes = append(t.nodes, n)
	if parent == noParent {
		n.pos = len(t.roots)
		t.roots = append(t.roots, n.idx)
	} else {
		p := t.nodes[parent]
		n.pos = len(p.children)
		p.children = append(p.children, n.idx)
	}
	return n.idx
}

// SetNodeType promotes the node of spanID and appends corrID to it.
func (t *Trace) SetNodeType(typ NodeType, spanID string, corrID CorrelationID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.findIdx(spanID)
	if idx == noParent {
		logrus.WithField("span_id", spanID).Error("apmtrace couldn't set node type: node not found")
		return
	}
	n := t.nodes[idx]
	n.typ = typ
	n.corrIDs = append(n.corrIDs, corrID)
}

// FindNode returns the first node of a depth-first walk wrapping spanID.
func (t *Trace) FindNode(spanID string) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.findIdx(spanID)
	if idx == noParent {
		return nil
	}
	return t.nodes[idx]
}

// findIdx is an iterative pre-order DFS from the roots. Caller holds mu.
func (t *Trace) findIdx(spanID string) int {
	if spanID == "" {
		return noParent
	}
	stack := make([]int, 0, len(t.roots))
	for i := len(t.roots) - 1; i >= 0; i-- {
		stack = append(stack, t.roots[i])
	}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := t.nodes[idx]
		if n.spanID() == spanID {
			return idx
		}
		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, n.children[i])
		}
	}
	return noParent
}

// NodePositionID returns the colon separated sibling indices leading from the
// top level down to the node of spanID, e.g. "1:0:2".
func (t *Trace) NodePositionID(spanID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positionID(spanID)
}

func (t *Trace) positionID(spanID string) (string, bool) {
	idx := t.findIdx(spanID)
	if idx == noParent {
		return "", false
	}
	path := make([]string, 0, 4)
	for idx != noParent {
		n := t.nodes[idx]
		path = append(path, strconv.Itoa(n.pos))
		idx = n.parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return strings.Join(path, ":"), true
}

// IsFinished walks from span up to the highest ancestor still present in this
// trace and returns that local root span if it and all of its descendants are
// finished, nil otherwise.
func (t *Trace) IsFinished(span *Span) *Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finishedRoot(span)
}

// finishedRoot is IsFinished without locking. Caller holds mu.
func (t *Trace) finishedRoot(span *Span) *Span {
	idx := t.findIdx(span.context.spanID)
	if idx == noParent {
		return nil
	}
	for {
		parent := t.nodes[idx].parent
		if parent == noParent || t.nodes[parent].span == nil {
			break
		}
		idx = parent
	}

	q := queue.New()
	q.Add(idx)
	for q.Length() > 0 {
		n := t.nodes[q.Remove().(int)]
		if n.span != nil && !n.span.IsFinished() {
			return nil
		}
		for _, c := range n.children {
			q.Add(c)
		}
	}
	return t.nodes[idx].span
}

// quiesce reports the local root of span exactly once: it returns the root
// only for the first caller that observes it fully finished.
func (t *Trace) quiesce(span *Span) *Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	root := t.finishedRoot(span)
	if root == nil {
		return nil
	}
	id := root.context.spanID
	if t.reported[id] {
		return nil
	}
	t.reported[id] = true
	return root
}

func (t *Trace) wasReported(rootID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reported[rootID]
}

// Roots returns the top-level nodes in insertion order.
func (t *Trace) Roots() []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	ret := make([]*Node, 0, len(t.roots))
	for _, idx := range t.roots {
		ret = append(ret, t.nodes[idx])
	}
	return ret
}

// Len returns the number of nodes in the trace.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}
