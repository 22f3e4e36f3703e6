package changelog

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/bhumikasha/terracotta-platform/topology"
	"github.com/bhumikasha/terracotta-platform/wire"
)

func prepareRecord(version uint64, parent uuid.UUID) *wire.Record {
	return &wire.Record{
		UUID:              uuid.New(),
		ParentUUID:        parent,
		Version:           version,
		State:             wire.StatePrepared,
		Payload:           wire.SetSetting("n1", "k", "v"),
		Result:            topology.Bootstrap(),
		CreationHost:      "h",
		CreationUser:      "u",
		CreationTimestamp: time.Now(),
	}
}

func TestAppendPreparedRequiresGenesisFirst(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := OpenInDir(fs, "/node-a")
	require.NoError(t, err)

	bad := prepareRecord(2, uuid.New())
	require.Error(t, log.AppendPrepared(bad))

	genesis := prepareRecord(1, uuid.Nil)
	require.NoError(t, log.AppendPrepared(genesis))
}

func TestCommitThenChainNextVersion(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := OpenInDir(fs, "/node-a")
	require.NoError(t, err)

	genesis := prepareRecord(1, uuid.Nil)
	require.NoError(t, log.AppendPrepared(genesis))

	_, err = log.ApplyTailState(genesis.UUID, wire.StateCommitted, "h", "u", time.Now())
	require.NoError(t, err)
	require.Equal(t, uint64(1), log.CurrentVersion())

	next := prepareRecord(2, genesis.UUID)
	require.NoError(t, log.AppendPrepared(next))
	head, ok := log.Head()
	require.True(t, ok)
	require.Equal(t, wire.StatePrepared, head.State)

	// chain integrity (spec.md §8 property 1): the record at version-1
	// exists and matches parent_uuid.
	parent, err := log.Get(1)
	require.NoError(t, err)
	require.Equal(t, parent.UUID, head.ParentUUID)
}

func TestAppendPreparedRejectsWhenTailNotTerminal(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := OpenInDir(fs, "/node-a")
	require.NoError(t, err)

	genesis := prepareRecord(1, uuid.Nil)
	require.NoError(t, log.AppendPrepared(genesis))

	second := prepareRecord(2, genesis.UUID)
	err = log.AppendPrepared(second)
	require.Error(t, err)
	_, ok := err.(LogConflictError)
	require.True(t, ok)
}

func TestReplayRecoversCommittedState(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := OpenInDir(fs, "/node-a")
	require.NoError(t, err)

	genesis := prepareRecord(1, uuid.Nil)
	require.NoError(t, log.AppendPrepared(genesis))
	_, err = log.ApplyTailState(genesis.UUID, wire.StateCommitted, "h", "u", time.Now())
	require.NoError(t, err)

	reopened, err := OpenInDir(fs, "/node-a")
	require.NoError(t, err)
	require.Equal(t, uint64(1), reopened.CurrentVersion())
	require.Equal(t, genesis.UUID, reopened.CurrentUUID())
}

func TestReplayTruncatesTornTrailingWrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := OpenInDir(fs, "/node-a")
	require.NoError(t, err)

	genesis := prepareRecord(1, uuid.Nil)
	require.NoError(t, log.AppendPrepared(genesis))

	info, err := fs.Stat("/node-a/journal.log")
	require.NoError(t, err)
	fullSize := info.Size()

	f, err := fs.OpenFile("/node-a/journal.log", flagAppend, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := OpenInDir(fs, "/node-a")
	require.NoError(t, err)
	require.Equal(t, genesis.UUID, func() uuid.UUID {
		h, _ := reopened.Head()
		return h.UUID
	}())

	truncated, err := fs.Stat("/node-a/journal.log")
	require.NoError(t, err)
	require.Equal(t, fullSize, truncated.Size())
}

func TestGetFallsBackToJournalAfterCacheEviction(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := OpenInDir(fs, "/node-a")
	require.NoError(t, err)

	genesis := prepareRecord(1, uuid.Nil)
	require.NoError(t, log.AppendPrepared(genesis))
	_, err = log.ApplyTailState(genesis.UUID, wire.StateCommitted, "h", "u", time.Now())
	require.NoError(t, err)

	parent := genesis.UUID
	for v := uint64(2); v <= recordCacheSize+10; v++ {
		rec := prepareRecord(v, parent)
		require.NoError(t, log.AppendPrepared(rec))
		_, err = log.ApplyTailState(rec.UUID, wire.StateCommitted, "h", "u", time.Now())
		require.NoError(t, err)
		parent = rec.UUID
	}

	// version 1 was evicted from the LRU cache long ago, but is still
	// durably present on disk and must remain fetchable (spec.md invariant
	// 1: chain integrity must be checkable for every version).
	rec, err := log.Get(1)
	require.NoError(t, err)
	require.Equal(t, genesis.UUID, rec.UUID)
	require.Equal(t, wire.StateCommitted, rec.State)
}

func TestOpenRejectsCorruptionInMiddleOfLog(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := OpenInDir(fs, "/node-a")
	require.NoError(t, err)

	genesis := prepareRecord(1, uuid.Nil)
	require.NoError(t, log.AppendPrepared(genesis))
	afterFirst, err := fs.Stat("/node-a/journal.log")
	require.NoError(t, err)
	firstFrameSize := afterFirst.Size()

	_, err = log.ApplyTailState(genesis.UUID, wire.StateCommitted, "h", "u", time.Now())
	require.NoError(t, err)

	second := prepareRecord(2, genesis.UUID)
	require.NoError(t, log.AppendPrepared(second))

	// Flip the last byte of the already-complete first frame's body. A
	// later, complete frame still follows, so this can never be explained
	// as a torn trailing write -- it must be reported, not silently
	// discarded.
	data, err := afero.ReadFile(fs, "/node-a/journal.log")
	require.NoError(t, err)
	data[firstFrameSize-1] ^= 0xff
	require.NoError(t, afero.WriteFile(fs, "/node-a/journal.log", data, 0o644))

	_, err = OpenInDir(fs, "/node-a")
	require.Error(t, err)
	_, ok := err.(MalformedRecordError)
	require.True(t, ok, "expected MalformedRecordError, got %T: %v", err, err)
}

func TestApplyTailStateRejectsUuidMismatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := OpenInDir(fs, "/node-a")
	require.NoError(t, err)

	genesis := prepareRecord(1, uuid.Nil)
	require.NoError(t, log.AppendPrepared(genesis))

	_, err = log.ApplyTailState(uuid.New(), wire.StateCommitted, "h", "u", time.Now())
	require.Error(t, err)
}
