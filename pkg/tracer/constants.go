package tracer

// Carrier keys. Reads compare upper-cased keys, so any casing on the wire works.
const (
	CarrierPrefix        = "HWKAPM"
	CarrierCorrelationID = CarrierPrefix + "ID"
	CarrierTraceID       = CarrierPrefix + "TRACEID"
	CarrierTransaction   = CarrierPrefix + "TXN"
	CarrierLevel         = CarrierPrefix + "LEVEL"
)

// NodeType classifies a node of the trace tree.
type NodeType string

const (
	NodeComponent NodeType = "Component"
	NodeConsumer  NodeType = "Consumer"
	NodeProducer  NodeType = "Producer"
)

// CorrelationScope tells the backend how a correlation id links two fragments.
type CorrelationScope string

const (
	ScopeInteraction CorrelationScope = "Interaction"
	ScopeCausedBy    CorrelationScope = "CausedBy"
)

// ReportingLevel overrides the sampler. The zero value means unset.
type ReportingLevel string

const (
	LevelUnset  ReportingLevel = ""
	LevelAll    ReportingLevel = "All"
	LevelNone   ReportingLevel = "None"
	LevelIgnore ReportingLevel = "Ignore"
)

// Reserved tag keys.
const (
	TagSamplingPriority = "sampling.priority"
	TagTransaction      = "transaction"
)

// CorrelationID is one stitching token attached to a node.
type CorrelationID struct {
	Value string           `json:"value"`
	Scope CorrelationScope `json:"scope"`
}
