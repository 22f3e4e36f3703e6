package wire

import (
	"time"

	"github.com/google/uuid"
)

// DiscoverRequest is read-only; it carries no fields.
type DiscoverRequest struct{}

// DiscoverResponse is the per-node status probe response (spec.md §4.3,
// §6). LatestChange is nil for a node that has never prepared anything.
type DiscoverResponse struct {
	Mode                  string     `json:"mode"`
	MutativeMessageCount  uint64     `json:"mutative_message_count"`
	LastMutationHost      string     `json:"last_mutation_host"`
	LastMutationUser      string     `json:"last_mutation_user"`
	LastMutationTimestamp time.Time  `json:"last_mutation_timestamp"`
	CurrentVersion        uint64     `json:"current_version"`
	HighestVersion        uint64     `json:"highest_version"`
	LatestChange          *Record    `json:"latest_change,omitempty"`
	Checkpoints           []string   `json:"checkpoints,omitempty"`
}

// DiagnosticRequest is read-only; it carries no fields.
type DiagnosticRequest struct{}

// DiagnosticResponse is the node identity/status snapshot nomadctl's
// `diagnostic` verb reads: the same facts as DiscoverResponse plus the
// node's own id and operating mode, gathered without mutating anything.
type DiagnosticResponse struct {
	ID                    string    `json:"id"`
	Mode                  string    `json:"mode"`
	MutativeMessageCount  uint64    `json:"mutative_message_count"`
	LastMutationHost      string    `json:"last_mutation_host"`
	LastMutationUser      string    `json:"last_mutation_user"`
	LastMutationTimestamp time.Time `json:"last_mutation_timestamp"`
	CurrentVersion        uint64    `json:"current_version"`
	HighestVersion        uint64    `json:"highest_version"`
	Tail                  *Record   `json:"tail,omitempty"`
}

type PrepareRequest struct {
	ExpectedMutativeCount uint64    `json:"expected_mutative_count"`
	ChangeUUID            uuid.UUID `json:"change_uuid"`
	NewVersion            uint64    `json:"new_version"`
	Payload               Payload   `json:"payload"`
	Host                  string    `json:"host"`
	User                  string    `json:"user"`
}

type PrepareResponse struct {
	Accepted        bool   `json:"accepted"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

type CommitRequest struct {
	ExpectedMutativeCount uint64    `json:"expected_mutative_count"`
	ChangeUUID            uuid.UUID `json:"change_uuid"`
	Host                  string    `json:"host"`
	User                  string    `json:"user"`
}

type CommitResponse struct {
	Accepted        bool   `json:"accepted"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

type RollbackRequest struct {
	ExpectedMutativeCount uint64    `json:"expected_mutative_count"`
	ChangeUUID            uuid.UUID `json:"change_uuid"`
	Host                  string    `json:"host"`
	User                  string    `json:"user"`
}

type RollbackResponse struct {
	Accepted        bool   `json:"accepted"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

type TakeOverRequest struct {
	ExpectedMutativeCount uint64    `json:"expected_mutative_count"`
	ChangeUUID            uuid.UUID `json:"change_uuid"`
	Host                  string    `json:"host"`
	User                  string    `json:"user"`
}

type TakeOverResponse struct {
	Accepted        bool    `json:"accepted"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
	TailRecord      *Record `json:"tail_record,omitempty"`
}
