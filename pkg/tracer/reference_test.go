package tracer

import (
	"testing"

	"github.com/opentracing/opentracing-go"
	r "github.com/stretchr/testify/require"
)

func TestResolveReferences(t *testing.T) {
	a := NewSpanContext("a", "t1", "", "", LevelUnset)
	b := NewSpanContext("b", "t1", "", "", LevelUnset)
	x := mockExtractedContext("x", "t2")
	y := mockExtractedContext("y", "t3")

	tests := []struct {
		name        string
		refs        []Reference
		kind        ResolutionKind
		primary     *SpanContext
		primaryKind ReferenceKind
		extras      int
		ambiguous   bool
	}{
		{
			name: "no references",
			kind: ResolveRoot,
		},
		{
			name:        "single child of",
			refs:        []Reference{{ChildOfRef, a}},
			kind:        ResolveChildOf,
			primary:     a,
			primaryKind: ChildOfRef,
		},
		{
			name:        "single follows from",
			refs:        []Reference{{FollowsFromRef, a}},
			kind:        ResolveJoin,
			primary:     a,
			primaryKind: FollowsFromRef,
		},
		{
			name:        "child of beats follows from",
			refs:        []Reference{{FollowsFromRef, a}, {ChildOfRef, b}},
			kind:        ResolveChildOf,
			primary:     b,
			primaryKind: ChildOfRef,
			extras:      1,
		},
		{
			name:        "extracted beats child of and is forced to child of",
			refs:        []Reference{{ChildOfRef, a}, {FollowsFromRef, x}},
			kind:        ResolveChildOf,
			primary:     x,
			primaryKind: ChildOfRef,
			extras:      1,
		},
		{
			name:        "two child of join on the first",
			refs:        []Reference{{ChildOfRef, a}, {ChildOfRef, b}},
			kind:        ResolveJoin,
			primary:     a,
			primaryKind: ChildOfRef,
			extras:      1,
			ambiguous:   true,
		},
		{
			name:        "two follows from join on the first",
			refs:        []Reference{{FollowsFromRef, b}, {FollowsFromRef, a}},
			kind:        ResolveJoin,
			primary:     b,
			primaryKind: FollowsFromRef,
			extras:      1,
			ambiguous:   true,
		},
		{
			name:        "two extracted join on the first",
			refs:        []Reference{{ChildOfRef, a}, {ChildOfRef, x}, {ChildOfRef, y}},
			kind:        ResolveJoin,
			primary:     a,
			primaryKind: ChildOfRef,
			extras:      2,
			ambiguous:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := resolveReferences(tt.refs)
			r.Equal(t, tt.kind, res.Kind)
			r.Equal(t, tt.ambiguous, res.Ambiguous)
			r.Len(t, res.Extras, tt.extras)
			if tt.primary != nil {
				r.Same(t, tt.primary, res.Primary.Context)
				r.Equal(t, tt.primaryKind, res.Primary.Kind)
				for _, e := range res.Extras {
					r.NotSame(t, tt.primary, e.Context)
				}
			}
		})
	}
}

func TestNormalizeReferences(t *testing.T) {
	tr, _ := mockNewTracer()
	span := tr.StartSpanWithOptions("a", SpanOptions{})
	foreign := opentracing.NoopTracer{}.StartSpan("noop").Context()

	refs := normalizeReferences([]opentracing.SpanReference{
		opentracing.ChildOf(span.Context()),
		opentracing.FollowsFrom(span.Context()),
		opentracing.ChildOf(foreign),
		{Type: opentracing.SpanReferenceType(7), ReferencedContext: span.Context()},
	})

	r.Equal(t, []Reference{
		{ChildOfRef, span.SpanContext()},
		{FollowsFromRef, span.SpanContext()},
		{ChildOfRef, span.SpanContext()},
	}, refs)
}

func TestAsSpanContext(t *testing.T) {
	tr, _ := mockNewTracer()
	span := tr.StartSpanWithOptions("a", SpanOptions{})

	r.Same(t, span.SpanContext(), asSpanContext(span))
	r.Same(t, span.SpanContext(), asSpanContext(span.Context()))
	r.Same(t, span.SpanContext(), asSpanContext(opentracing.Span(span)))
	r.Nil(t, asSpanContext((*Span)(nil)))
	r.Nil(t, asSpanContext(opentracing.NoopTracer{}.StartSpan("noop")))
	r.Nil(t, asSpanContext("nope"))
	r.Equal(t, "FollowsFrom", FollowsFromRef.String())
	r.Equal(t, "ReferenceKind(9)", ReferenceKind(9).String())
}

func mockExtractedContext(consumerID, traceID string) *SpanContext {
	ctx := NewSpanContext("ext-"+consumerID, traceID, "", "", LevelUnset)
	ctx.SetConsumerCorrelationID(consumerID)
	return ctx
}
