package tracer

import (
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
)

// ReferenceKind is the declared causal type of a reference.
type ReferenceKind int

const (
	ChildOfRef ReferenceKind = iota
	FollowsFromRef
)

func (k ReferenceKind) String() string {
	switch k {
	case ChildOfRef:
		return "ChildOf"
	case FollowsFromRef:
		return "FollowsFrom"
	default:
		return fmt.Sprintf("ReferenceKind(%d)", int(k))
	}
}

// Reference is a typed causal link from a new span to a prior context.
type Reference struct {
	Kind    ReferenceKind
	Context *SpanContext
}

// ResolutionKind is the outcome of reference resolution.
type ResolutionKind int

const (
	// ResolveRoot: no references, the span is a plain root.
	ResolveRoot ResolutionKind = iota
	// ResolveChildOf: an in-tree child of Primary.
	ResolveChildOf
	// ResolveJoin: a new trace causally downstream of Primary.
	ResolveJoin
)

// Resolution is the decision taken for a set of references.
type Resolution struct {
	Kind    ResolutionKind
	Primary Reference
	Extras  []Reference
	// Ambiguous is set when several references shared the winning priority
	// and the first supplied reference was picked.
	Ambiguous bool
}

// resolveReferences selects the primary reference. Extracted contexts win over
// ChildOf, ChildOf wins over FollowsFrom; a tie in the winning bucket makes the
// first reference the primary of a join.
func resolveReferences(refs []Reference) Resolution {
	if len(refs) == 0 {
		return Resolution{Kind: ResolveRoot}
	}

	var extracted, childOf, followsFrom []int
	for i, ref := range refs {
		switch {
		case ref.Context.IsExtracted():
			extracted = append(extracted, i)
		case ref.Kind == FollowsFromRef:
			followsFrom = append(followsFrom, i)
		case ref.Kind == ChildOfRef:
			childOf = append(childOf, i)
		}
	}

	primary := -1
	switch {
	case len(extracted) == 1:
		primary = extracted[0]
	case len(extracted) > 1:
	case len(childOf) == 1:
		primary = childOf[0]
	case len(childOf) > 1:
	case len(followsFrom) == 1:
		primary = followsFrom[0]
	}

	if primary < 0 {
		return Resolution{
			Kind:      ResolveJoin,
			Primary:   refs[0],
			Extras:    append([]Reference(nil), refs[1:]...),
			Ambiguous: true,
		}
	}

	res := Resolution{Primary: refs[primary], Kind: ResolveJoin}
	if refs[primary].Context.IsExtracted() {
		// 入站请求总是 ChildOf
		res.Primary.Kind = ChildOfRef
	}
	if res.Primary.Kind == ChildOfRef {
		res.Kind = ResolveChildOf
	}
	res.Extras = make([]Reference, 0, len(refs)-1)
	for i, ref := range refs {
		if i != primary {
			res.Extras = append(res.Extras, ref)
		}
	}
	return res
}

// normalizeReferences converts opentracing references to References, dropping
// the ones whose context was not produced by this tracer.
func normalizeReferences(refs []opentracing.SpanReference) []Reference {
	ret := make([]Reference, 0, len(refs))
	for _, ref := range refs {
		ctx := asSpanContext(ref.ReferencedContext)
		if ctx == nil {
			logrus.WithField("context", fmt.Sprintf("%T", ref.ReferencedContext)).
				Warn("apmtrace ignored reference to a foreign span context")
			continue
		}
		kind := ChildOfRef
		switch ref.Type {
		case opentracing.ChildOfRef:
		case opentracing.FollowsFromRef:
			kind = FollowsFromRef
		default:
			logrus.Warnf("apmtrace met unrecognized reference type %d, using ChildOf", ref.Type)
		}
		ret = append(ret, Reference{Kind: kind, Context: ctx})
	}
	return ret
}

// asSpanContext accepts a *SpanContext, a *Span or any opentracing.Span.
func asSpanContext(v interface{}) *SpanContext {
	switch c := v.(type) {
	case *SpanContext:
		return c
	case *Span:
		if c == nil {
			return nil
		}
		return c.context
	case opentracing.Span:
		if sc, ok := c.Context().(*SpanContext); ok {
			return sc
		}
	}
	return nil
}
