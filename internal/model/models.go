package model

import "net/netip"

type Op string // "<", "<=", ">", ">=", "="

const (
	OpLT Op = "<"
	OpLE Op = "<="
	OpGT Op = ">"
	OpGE Op = ">="
	OpEQ Op = "="
)

type FieldKind string // "protocol", "port"

const (
	KindProtocol FieldKind = "protocol"
	KindPort     FieldKind = "port"
)

// FieldSpec describes one match field of the pipeline: the name used in
// policy files and the table that partitions its raw value.
type FieldSpec struct {
	Name     string
	Kind     FieldKind
	Max      uint64
	Table    string
	Action   string
	TableID  uint32
	ActionID uint32
}

type FieldDomain struct {
	Name        string
	Max         uint64
	Breakpoints []uint64
}

type Term struct {
	Field string
	Op    Op
	Value uint64
}

type LeafRule struct {
	Line      int
	Condition string
	Terms     []Term
	Class     int
}

// Bucket covers the inclusive interval [Low, High].
type Bucket struct {
	Index int
	Low   uint64
	High  uint64
}

type PartitionTable struct {
	Field   FieldDomain
	Buckets []Bucket
}

// ValueRange is signed so that "<0" or ">max" fold into an empty range
// instead of wrapping around.
type ValueRange struct {
	Min int64
	Max int64
}

type BucketRange struct {
	Start int
	End   int
}

type Destination struct {
	Host netip.Addr
	Port uint16
}

// ActionMapping is the caller supplied class -> action -> destination
// configuration. A nil destination marks a drop action.
type ActionMapping struct {
	Classes map[int]int
	Actions map[int]*Destination
}

type Resolution struct {
	Action      int
	Drop        bool
	Destination Destination
}

type ForwardingRule struct {
	Leaf       LeafRule
	Ranges     []BucketRange
	Resolution Resolution
	Priority   int
}

type Program struct {
	Tables      []PartitionTable
	Rules       []ForwardingRule
	Diagnostics []*ParseError
}

type Packet map[string]uint64

type Decision string // "FORWARD", "DROP", "NO_MATCH"

const (
	DecisionForward Decision = "FORWARD"
	DecisionDrop    Decision = "DROP"
	DecisionNoMatch Decision = "NO_MATCH"
)

type EvaluationResult struct {
	Decision    Decision
	Rule        int // index into Program.Rules, -1 when nothing matched
	Line        int
	Class       int
	Action      int
	Destination Destination
	Buckets     []int
}
