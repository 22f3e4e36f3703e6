// Package changelog implements the durable, append-only per-node change
// log of spec.md §4.1 (C1): one journal file per node, atomic
// write-then-fsync appends, crash-safe replay, and the chain-integrity
// checks of §3.
//
// Commit and rollback are represented as a tail-state update: a second
// frame is appended for the same (uuid, version) with State flipped to a
// terminal value and the approval fields filled in. Replay folds these
// physical frames down to one logical record per version by keeping the
// last frame seen for each version -- the spec explicitly allows either
// representation (§4.1) provided the §3 invariants hold, and this one
// avoids minting an extra uuid/version for an acknowledgement that carries
// no new payload.
package changelog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	logging "github.com/op/go-logging"
	"github.com/spf13/afero"

	"github.com/bhumikasha/terracotta-platform/topology"
	"github.com/bhumikasha/terracotta-platform/wire"
)

var logger = logging.MustGetLogger("changelog")

const journalFileName = "journal.log"
const recordCacheSize = 256

const flagAppend = os.O_APPEND | os.O_CREATE | os.O_WRONLY

// Log is a single node's durable change journal. It is not safe for
// concurrent use by multiple Log instances against the same path; the
// node package serializes all mutative access through one Log per node.
type Log struct {
	fs   afero.Fs
	path string

	mu             sync.Mutex
	head           *wire.Record
	currentRecord  *wire.Record // highest-version COMMITTED record, or nil
	cache          *lru.Cache[uint64, *wire.Record]
}

// NotFoundError is returned by Get for a version that has never been
// written.
type NotFoundError struct{ version uint64 }

func (e NotFoundError) Error() string { return fmt.Sprintf("no record at version %d", e.version) }

// Open replays path and returns a Log positioned at the recovered head. It
// does not create path's directory; OpenInDir does. A partially written trailing
// record is discarded and the file truncated to the last good frame,
// mirroring spec.md §4.1's recovery rule.
func Open(fs afero.Fs, path string) (*Log, error) {
	cache, err := lru.New[uint64, *wire.Record](recordCacheSize)
	if err != nil {
		return nil, err
	}
	l := &Log{fs: fs, path: path, cache: cache}
	if err := l.replay(); err != nil {
		return nil, err
	}
	return l, nil
}

// OpenInDir replays the journal file inside dir (creating dir if
// necessary) and returns a Log positioned at the recovered head. This is
// the entrypoint node.Server uses: one journal directory per node.
func OpenInDir(fs afero.Fs, dir string) (*Log, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, NewDurabilityError(fmt.Sprintf("could not create journal directory: %v", err))
	}
	return Open(fs, filepath.Join(dir, journalFileName))
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (l *Log) replay() error {
	exists, err := afero.Exists(l.fs, l.path)
	if err != nil {
		return err
	}
	if !exists {
		logger.Info("no journal found at %s, starting empty", l.path)
		return nil
	}

	f, err := l.fs.Open(l.path)
	if err != nil {
		return err
	}
	defer f.Close()

	cr := &countingReader{r: f}
	byVersion := make(map[uint64]*wire.Record)
	order := make([]uint64, 0, 16)
	lastGood := int64(0)

	for {
		rec, err := wire.DecodeRecord(cr)
		if err == io.EOF {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// readFrame only returns this when it ran out of bytes mid-frame,
			// which can only happen at the physical end of the file: a write
			// interrupted by a crash. Anything else -- bad CRC, bad schema
			// version, malformed JSON -- had a complete frame to work with
			// and means real corruption, handled below instead of here.
			logger.Warning("discarding partially written trailing record in %s: %v", l.path, err)
			break
		}
		if err != nil {
			return NewMalformedRecordError(lastGood, err.Error())
		}
		if _, seen := byVersion[rec.Version]; !seen {
			order = append(order, rec.Version)
		}
		byVersion[rec.Version] = rec
		lastGood = cr.n
	}

	info, err := l.fs.Stat(l.path)
	if err == nil && info.Size() > lastGood {
		logger.Warning("truncating %s from %d to %d bytes", l.path, info.Size(), lastGood)
		if err := l.fs.Truncate(l.path, lastGood); err != nil {
			return NewDurabilityError(fmt.Sprintf("could not truncate torn journal: %v", err))
		}
	}

	var head *wire.Record
	var current *wire.Record
	for _, v := range order {
		rec := byVersion[v]
		if head == nil || rec.Version > head.Version {
			head = rec
		}
		if rec.State == wire.StateCommitted && (current == nil || rec.Version > current.Version) {
			current = rec
		}
		l.cache.Add(rec.Version, rec)
	}
	l.head = head
	l.currentRecord = current
	return nil
}

// Head returns a clone of the current tail record, or (nil, false) for an
// empty log.
func (l *Log) Head() (*wire.Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.head == nil {
		return nil, false
	}
	return l.head.Clone(), true
}

// Get returns the record at the given version. The LRU cache only holds
// the most recently touched recordCacheSize versions; a miss falls back to
// scanning the durable journal directly so that chain integrity remains
// checkable for every version ever written (spec.md §4.1, invariant 1), not
// just the recent ones.
func (l *Log) Get(version uint64) (*wire.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.cache.Get(version); ok {
		return rec.Clone(), nil
	}
	rec, err := l.scanForVersion(version)
	if err != nil {
		return nil, err
	}
	l.cache.Add(rec.Version, rec)
	return rec.Clone(), nil
}

// scanForVersion re-reads the journal file from the start looking for
// version, folding multiple physical frames for the same logical record
// (the PREPARED, then COMMITTED/ROLLED_BACK tail-state-update
// representation) down to the last one seen. By the time Get runs, Open's
// replay has already validated and possibly truncated the file, so any
// decode failure encountered here -- including a torn trailing write --
// is unexpected corruption and reported as MalformedRecordError rather
// than silently discarded.
func (l *Log) scanForVersion(version uint64) (*wire.Record, error) {
	exists, err := afero.Exists(l.fs, l.path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, NotFoundError{version: version}
	}

	f, err := l.fs.Open(l.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := &countingReader{r: f}
	var found *wire.Record
	for {
		offset := cr.n
		rec, err := wire.DecodeRecord(cr)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewMalformedRecordError(offset, err.Error())
		}
		if rec.Version == version {
			found = rec
		}
	}
	if found == nil {
		return nil, NotFoundError{version: version}
	}
	return found, nil
}

// CurrentConfig returns the payload result of the highest-version
// COMMITTED record, or the bootstrap configuration if none exists
// (spec.md invariant 5).
func (l *Log) CurrentConfig() *topology.Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentRecord == nil {
		return topology.Bootstrap()
	}
	return l.currentRecord.Result.Clone()
}

// CurrentVersion returns the version of the highest COMMITTED record, or 0.
func (l *Log) CurrentVersion() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentRecord == nil {
		return 0
	}
	return l.currentRecord.Version
}

// CurrentUUID returns the uuid of the highest COMMITTED record, or
// uuid.Nil.
func (l *Log) CurrentUUID() uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentRecord == nil {
		return uuid.Nil
	}
	return l.currentRecord.UUID
}

// HighestVersion returns the version of the tail record, or 0 for an empty
// log.
func (l *Log) HighestVersion() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.head == nil {
		return 0
	}
	return l.head.Version
}

func (l *Log) appendFrame(rec *wire.Record) error {
	body, err := wire.EncodeRecordBytes(rec)
	if err != nil {
		return NewDurabilityError(fmt.Sprintf("encode failed: %v", err))
	}
	f, err := l.fs.OpenFile(l.path, flagAppend, 0o644)
	if err != nil {
		return NewDurabilityError(fmt.Sprintf("open failed: %v", err))
	}
	defer f.Close()
	if _, err := f.Write(body); err != nil {
		return NewDurabilityError(fmt.Sprintf("write failed: %v", err))
	}
	if err := f.Sync(); err != nil {
		return NewDurabilityError(fmt.Sprintf("fsync failed: %v", err))
	}
	return nil
}

// AppendPrepared appends a brand new PREPARED record. It fails with
// LogConflictError if rec does not chain onto the current head exactly
// (spec.md §4.1): rec.ParentUUID must equal the head's uuid (or be
// uuid.Nil for the genesis record on an empty log) and rec.Version must be
// head.Version+1.
func (l *Log) AppendPrepared(rec *wire.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.State != wire.StatePrepared {
		return NewLogConflictError(fmt.Sprintf("AppendPrepared called with state %s", rec.State))
	}

	if l.head == nil {
		if !rec.IsGenesisParent() || rec.Version != 1 {
			return NewLogConflictError("first record must be the genesis record at version 1")
		}
	} else {
		if !l.head.State.Terminal() {
			return NewLogConflictError(fmt.Sprintf("cannot append PREPARED record: tail at version %d is not terminal", l.head.Version))
		}
		if rec.ParentUUID != l.head.UUID {
			return NewLogConflictError("parent_uuid does not match current head uuid")
		}
		if rec.Version != l.head.Version+1 {
			return NewLogConflictError(fmt.Sprintf("expected version %d, got %d", l.head.Version+1, rec.Version))
		}
	}

	if err := l.appendFrame(rec); err != nil {
		return err
	}
	stored := rec.Clone()
	l.head = stored
	l.cache.Add(stored.Version, stored)
	return nil
}

// ApplyTailState flips the tail record to a terminal state (COMMITTED or
// ROLLED_BACK), appending a new physical frame for the same logical
// (uuid, version) with the approval audit filled in. It fails with
// LogConflictError if the tail is not PREPARED or its uuid does not match.
func (l *Log) ApplyTailState(changeUUID uuid.UUID, newState wire.RecordState, approvalHost, approvalUser string, approvalTimestamp time.Time) (*wire.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !newState.Terminal() {
		return nil, NewLogConflictError(fmt.Sprintf("ApplyTailState called with non-terminal state %s", newState))
	}
	if l.head == nil || l.head.State != wire.StatePrepared {
		return nil, NewLogConflictError("no PREPARED tail to transition")
	}
	if l.head.UUID != changeUUID {
		return nil, NewLogConflictError("uuid does not match current PREPARED tail")
	}

	updated := l.head.Clone()
	updated.State = newState
	updated.ApprovalHost = approvalHost
	updated.ApprovalUser = approvalUser
	updated.ApprovalTimestamp = approvalTimestamp

	if err := l.appendFrame(updated); err != nil {
		return nil, err
	}
	l.head = updated
	l.cache.Add(updated.Version, updated)
	if newState == wire.StateCommitted {
		l.currentRecord = updated
	}
	return updated.Clone(), nil
}
