// Package wire defines the change record and RPC message types that cross
// a node boundary (spec.md §3, §6), plus their on-disk/on-wire codec.
package wire

import (
	"time"

	"github.com/google/uuid"

	"github.com/bhumikasha/terracotta-platform/topology"
)

// RecordState is the lifecycle state of a change record (spec.md §3).
type RecordState uint8

const (
	// StateUnknown is the zero value and is never written durably.
	StateUnknown RecordState = iota
	StatePrepared
	StateCommitted
	StateRolledBack
)

func (s RecordState) String() string {
	switch s {
	case StatePrepared:
		return "PREPARED"
	case StateCommitted:
		return "COMMITTED"
	case StateRolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the state is permanent (COMMITTED, ROLLED_BACK).
// It is false for PREPARED, which can still transition, and for the zero
// value.
func (s RecordState) Terminal() bool {
	return s == StateCommitted || s == StateRolledBack
}

// PayloadKind discriminates the Payload union.
type PayloadKind uint8

const (
	PayloadNone PayloadKind = iota
	PayloadAttachNode
	PayloadAttachStripe
	PayloadDetachNode
	PayloadDetachStripe
	PayloadSetSetting
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadAttachNode:
		return "ATTACH_NODE"
	case PayloadAttachStripe:
		return "ATTACH_STRIPE"
	case PayloadDetachNode:
		return "DETACH_NODE"
	case PayloadDetachStripe:
		return "DETACH_STRIPE"
	case PayloadSetSetting:
		return "SET_SETTING"
	default:
		return "NONE"
	}
}

type AttachNodePayload struct {
	StripeID topology.StripeID `json:"stripe_id"`
	Node     topology.Node     `json:"node"`
}

type AttachStripePayload struct {
	Stripe topology.Stripe `json:"stripe"`
}

type DetachNodePayload struct {
	NodeID topology.NodeID `json:"node_id"`
}

type DetachStripePayload struct {
	StripeID topology.StripeID `json:"stripe_id"`
}

type SetSettingPayload struct {
	NodeID topology.NodeID `json:"node_id"`
	Key    string          `json:"key"`
	Value  string          `json:"value"`
}

// Payload is the opaque, serializable change description carried by a
// PREPARED record (spec.md §3). Exactly one of the pointer fields is set,
// selected by Kind.
type Payload struct {
	Kind         PayloadKind          `json:"kind"`
	AttachNode   *AttachNodePayload   `json:"attach_node,omitempty"`
	AttachStripe *AttachStripePayload `json:"attach_stripe,omitempty"`
	DetachNode   *DetachNodePayload   `json:"detach_node,omitempty"`
	DetachStripe *DetachStripePayload `json:"detach_stripe,omitempty"`
	SetSetting   *SetSettingPayload   `json:"set_setting,omitempty"`
}

func AttachNode(stripe topology.StripeID, n topology.Node) Payload {
	return Payload{Kind: PayloadAttachNode, AttachNode: &AttachNodePayload{StripeID: stripe, Node: n}}
}

func AttachStripe(s topology.Stripe) Payload {
	return Payload{Kind: PayloadAttachStripe, AttachStripe: &AttachStripePayload{Stripe: s}}
}

func DetachNode(id topology.NodeID) Payload {
	return Payload{Kind: PayloadDetachNode, DetachNode: &DetachNodePayload{NodeID: id}}
}

func DetachStripe(id topology.StripeID) Payload {
	return Payload{Kind: PayloadDetachStripe, DetachStripe: &DetachStripePayload{StripeID: id}}
}

func SetSetting(node topology.NodeID, key, value string) Payload {
	return Payload{Kind: PayloadSetSetting, SetSetting: &SetSettingPayload{NodeID: node, Key: key, Value: value}}
}

// Record is the immutable (once durable) unit of the change log (spec.md
// §3). Commit/rollback are represented as a tail-state update: the same
// UUID and Version, State and the Approval* fields changed in place — see
// changelog.Log for how that is made crash-safe on an append-only file.
type Record struct {
	SchemaVersion uint8       `json:"schema_version"`
	UUID          uuid.UUID   `json:"uuid"`
	ParentUUID    uuid.UUID   `json:"parent_uuid"`
	Version       uint64      `json:"version"`
	State         RecordState `json:"state"`
	Payload       Payload     `json:"payload"`
	// Result is the candidate configuration the evaluator produced for
	// this payload against the config current at prepare time.
	Result *topology.Config `json:"result"`

	CreationHost      string    `json:"creation_host"`
	CreationUser      string    `json:"creation_user"`
	CreationTimestamp time.Time `json:"creation_timestamp"`

	ApprovalHost      string    `json:"approval_host,omitempty"`
	ApprovalUser      string    `json:"approval_user,omitempty"`
	ApprovalTimestamp time.Time `json:"approval_timestamp,omitempty"`

	// Checkpoints are opaque audit markers, preserved verbatim and never
	// interpreted (spec.md §9 open question).
	Checkpoints []string `json:"checkpoints,omitempty"`
}

// IsGenesisParent reports whether this record has no parent (the first
// record in the chain).
func (r *Record) IsGenesisParent() bool {
	return r.ParentUUID == uuid.Nil
}

// Clone deep-copies the record, mirroring the teacher's
// copyInstanceAtomic: callers that hand a record across a goroutine or
// package boundary get their own copy, never a shared mutable one.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Result = r.Result.Clone()
	c.Checkpoints = append([]string(nil), r.Checkpoints...)
	return &c
}
