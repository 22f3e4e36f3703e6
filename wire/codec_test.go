package wire

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bhumikasha/terracotta-platform/topology"
)

func sampleRecord() *Record {
	return &Record{
		UUID:       uuid.New(),
		ParentUUID: uuid.Nil,
		Version:    1,
		State:      StatePrepared,
		Payload:    AttachNode("stripe-1", topology.Node{ID: "node-2", Name: "node2", Address: "10.0.0.2:7072"}),
		Result: &topology.Config{
			Stripes:     map[topology.StripeID]topology.Stripe{"stripe-1": {ID: "stripe-1", NodeIDs: []topology.NodeID{"node-1", "node-2"}}},
			Nodes:       map[topology.NodeID]topology.Node{"node-1": {ID: "node-1", Address: "10.0.0.1:7072"}, "node-2": {ID: "node-2", Address: "10.0.0.2:7072"}},
			StripeOrder: []topology.StripeID{"stripe-1"},
		},
		CreationHost:      "host-a",
		CreationUser:      "alice",
		CreationTimestamp: time.Now().Truncate(time.Millisecond).UTC(),
	}
}

// Property 8 (spec.md §8): serialize -> deserialize of a record is the
// identity.
func TestRecordRoundTrip(t *testing.T) {
	rec := sampleRecord()
	body, err := EncodeRecordBytes(rec)
	require.NoError(t, err)

	decoded, err := DecodeRecordBytes(body)
	require.NoError(t, err)

	require.Equal(t, rec.UUID, decoded.UUID)
	require.Equal(t, rec.Version, decoded.Version)
	require.Equal(t, rec.State, decoded.State)
	require.Equal(t, rec.Payload.Kind, decoded.Payload.Kind)
	require.True(t, rec.Result.Equal(decoded.Result))
	require.Equal(t, rec.CreationHost, decoded.CreationHost)
	require.True(t, rec.CreationTimestamp.Equal(decoded.CreationTimestamp))

	// Config.Equal ignores StripeOrder by design; cmp.Diff pins down that
	// the round trip preserved it exactly too, since a node replaying its
	// own journal should never see its iteration order perturbed.
	if diff := cmp.Diff(rec.Result, decoded.Result); diff != "" {
		t.Errorf("decoded result diverged from the original (-want +got):\n%s", diff)
	}
}

func TestRecordRoundTripDetectsCorruption(t *testing.T) {
	rec := sampleRecord()
	body, err := EncodeRecordBytes(rec)
	require.NoError(t, err)

	corrupt := append([]byte(nil), body...)
	corrupt[len(corrupt)-1] ^= 0xFF

	_, err = DecodeRecordBytes(corrupt)
	require.Error(t, err)
}

func TestMessageRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	req := PrepareRequest{ExpectedMutativeCount: 3, ChangeUUID: uuid.New(), NewVersion: 2, Payload: DetachNode("node-9"), Host: "h", User: "u"}
	require.NoError(t, WriteMessage(buf, KindPrepareRequest, req))

	kind, body, err := ReadMessage(buf)
	require.NoError(t, err)
	require.Equal(t, KindPrepareRequest, kind)

	var decoded PrepareRequest
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, req.ChangeUUID, decoded.ChangeUUID)
	require.Equal(t, req.NewVersion, decoded.NewVersion)
}

// Multiple frames on one stream must not bleed into each other -- this is
// the exact hazard the hand-rolled readFrame body read guards against (see
// the comment in codec.go).
func TestMultipleFramesOnOneStream(t *testing.T) {
	buf := &bytes.Buffer{}
	a := sampleRecord()
	b := sampleRecord()
	b.Version = 2
	b.ParentUUID = a.UUID
	require.NoError(t, EncodeRecord(buf, a))
	require.NoError(t, EncodeRecord(buf, b))

	got1, err := DecodeRecord(buf)
	require.NoError(t, err)
	require.Equal(t, a.UUID, got1.UUID)

	got2, err := DecodeRecord(buf)
	require.NoError(t, err)
	require.Equal(t, b.UUID, got2.UUID)
}
