// Package types defines the wire-level data model shared by every scribe
// component: sequenced ops, batches, protocol state, and checkpoints.
package types

import "time"

// SequenceNumber is a document-scoped, strictly monotonic op counter.
type SequenceNumber = uint64

// Offset identifies a position in the upstream message bus. Offsets are
// the unit of acknowledgement, not sequence numbers.
type Offset = uint64

// ClientID is an opaque identifier for a connected client.
type ClientID = string

// TenantID and DocumentID scope a document within the service.
type TenantID = string
type DocumentID = string

// OpType enumerates the sequenced op kinds.
type OpType string

const (
	OpTypeOp          OpType = "op"
	OpTypeClientJoin  OpType = "clientJoin"
	OpTypeClientLeave OpType = "clientLeave"
	OpTypeSummarize   OpType = "summarize"
	OpTypeSummaryAck  OpType = "summaryAck"
	OpTypeSummaryNack OpType = "summaryNack"
	OpTypeNoClient    OpType = "noClient"
	OpTypeControl     OpType = "control"
)

// ServerMetadata carries server-only annotations on an op.
type ServerMetadata struct {
	// DeliAcked marks an op the upstream sequencer already acknowledged;
	// a Summarize op with DeliAcked set is not re-dispatched.
	DeliAcked bool
}

// SequencedOp is the immutable per-op record flowing through a document's
// log. Contents and Data carry opaque, op-type-specific payloads through
// the Content tagged union defined in content.go.
type SequencedOp struct {
	SequenceNumber          SequenceNumber
	MinimumSequenceNumber   SequenceNumber
	ReferenceSequenceNumber SequenceNumber
	ClientID                ClientID
	Type                    OpType
	Contents                Content
	Data                    Content
	ServerMetadata          *ServerMetadata
	Traces                  []Trace
}

// Trace is an opaque hop recorded for distributed tracing; scribe never
// interprets it beyond passing it through.
type Trace struct {
	Service   string
	Action    string
	Timestamp time.Time
}

// Batch is a boxcar: an ordered group of ops delivered together under a
// single upstream offset.
type Batch struct {
	Offset    Offset
	Partition int32
	Contents  []SequencedOp
}

// MemberEntry is what the quorum tracks per connected client.
type MemberEntry struct {
	ClientID    ClientID
	JoinDetails Content
	// SequenceNumber is the op sequence at which the client joined. It is
	// kept as-is when getProtocolState scrubs identifying fields.
	SequenceNumber SequenceNumber
}

// ProtocolState is the serializable snapshot returned by
// protocol.Handler.GetProtocolState.
type ProtocolState struct {
	Members               []MemberEntry
	Proposals             []Proposal
	Values                map[string]Content
	MinimumSequenceNumber SequenceNumber
	SequenceNumber        SequenceNumber
}

// Proposal is a pending quorum proposal recorded by the protocol handler.
type Proposal struct {
	Key            string
	Value          Content
	SequenceNumber SequenceNumber
}

// SummaryHandle is the opaque reference a Summary Writer returns for a
// written snapshot (client or service).
type SummaryHandle string

// ScribeCheckpoint is the persisted progress record written to the
// document repository once per checkpoint cycle.
type ScribeCheckpoint struct {
	SequenceNumber            SequenceNumber
	MinimumSequenceNumber     SequenceNumber
	ProtocolState             ProtocolState
	LogOffset                 Offset
	LastSummarySequenceNumber SequenceNumber
	LastClientSummaryHead     SummaryHandle // empty means absent
	ValidParentSummaries      []SummaryHandle
	ProtocolHead              SequenceNumber
	IsCorrupt                 bool
	CheckpointTimestamp       time.Time
}

// CheckpointReason is the priority-ordered heuristic selection a Lambda
// makes at the end of each batch.
type CheckpointReason string

const (
	ReasonMarkAsCorrupt CheckpointReason = "markAsCorrupt"
	ReasonNoClients     CheckpointReason = "noClients"
	ReasonEveryMessage  CheckpointReason = "everyMessage"
	ReasonMaxMessages   CheckpointReason = "maxMessages"
	ReasonMaxTime       CheckpointReason = "maxTime"
	ReasonIdleTime      CheckpointReason = "idleTime"
)

// CloseReason is the terminal reason passed to Lambda.Close.
type CloseReason string

const (
	CloseRebalance CloseReason = "rebalance"
	CloseError     CloseReason = "error"
	CloseShutdown  CloseReason = "shutdown"
	CloseStop      CloseReason = "stop"
)
