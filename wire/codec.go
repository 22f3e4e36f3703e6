package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
)

// CurrentSchemaVersion is stamped on every record written by this build.
// Readers reject any frame whose version byte differs from this one --
// forward compatibility across schema versions is a non-goal for now, so
// only the current version round-trips.
const CurrentSchemaVersion uint8 = 1

// frame format: a schema-version byte and a CRC32 trailer wrapped around a
// length-prefixed body, per spec.md §6: "a leading length, a CRC".
//
//	[1 byte  schema version]
//	[4 bytes CRC32 (IEEE) of body, little endian]
//	[4 bytes body length, little endian]
//	[body... JSON encoding of the payload]

// writeLengthPrefixedBody writes body's length followed by body itself to
// bw, failing if the writer didn't take every byte offered.
func writeLengthPrefixedBody(bw *bufio.Writer, body []byte) error {
	size := uint32(len(body))
	if err := binary.Write(bw, binary.LittleEndian, size); err != nil {
		return err
	}
	n, err := bw.Write(body)
	if err != nil {
		return err
	}
	if uint32(n) != size {
		return fmt.Errorf("wire: short write: wrote %d of %d body bytes", n, size)
	}
	return nil
}

func writeFrame(w io.Writer, body []byte) error {
	if err := binary.Write(w, binary.LittleEndian, CurrentSchemaVersion); err != nil {
		return err
	}
	sum := crc32.ChecksumIEEE(body)
	if err := binary.Write(w, binary.LittleEndian, sum); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if err := writeLengthPrefixedBody(bw, body); err != nil {
		return err
	}
	return bw.Flush()
}

// readFrame reads one frame and returns its body. It returns io.EOF only
// when zero bytes could be read at the start of a frame (a clean end of
// stream); running out of bytes partway through a frame is surfaced as
// io.ErrUnexpectedEOF, and a complete frame with a bad schema version or
// CRC as a plain error, so the log replayer can tell a clean stop from a
// torn trailing write.
func readFrame(r io.Reader) ([]byte, error) {
	var version uint8
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, io.ErrUnexpectedEOF
	}
	if version != CurrentSchemaVersion {
		return nil, fmt.Errorf("wire: unsupported schema version %d", version)
	}
	var sum uint32
	if err := binary.Read(r, binary.LittleEndian, &sum); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	// Deliberately not wrapped in a *bufio.Reader here: a fresh one on every
	// call would read ahead past this frame into its internal buffer and
	// strand those bytes when discarded -- readFrame is called repeatedly
	// over the same stream, so it reads exactly size bytes itself instead.
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	if crc32.ChecksumIEEE(body) != sum {
		return nil, fmt.Errorf("wire: crc mismatch, record is corrupt")
	}
	return body, nil
}

// EncodeRecord writes r's self-describing, versioned, length+CRC-framed
// encoding to w.
func EncodeRecord(w io.Writer, r *Record) error {
	r.SchemaVersion = CurrentSchemaVersion
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return writeFrame(w, body)
}

// DecodeRecord reads one framed record from r.
func DecodeRecord(r io.Reader) (*Record, error) {
	body, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	rec := &Record{}
	if err := json.Unmarshal(body, rec); err != nil {
		return nil, fmt.Errorf("wire: malformed record body: %w", err)
	}
	return rec, nil
}

// EncodeRecordBytes returns one record's whole frame; changelog appends it
// to the journal in a single write, and tests use it to assert round-trip
// identity (spec.md §8 property 8).
func EncodeRecordBytes(r *Record) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := EncodeRecord(buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeRecordBytes(b []byte) (*Record, error) {
	return DecodeRecord(bytes.NewReader(b))
}

// MessageKind discriminates the request/response envelope used when a
// message crosses the wire (spec.md §6). Messages exchanged in-process
// (transport.LocalNodeClient) never go through this envelope; it exists
// for transport.RemoteNodeClient and for the round-trip property test.
type MessageKind uint8

const (
	KindDiscoverRequest MessageKind = iota + 1
	KindDiscoverResponse
	KindPrepareRequest
	KindPrepareResponse
	KindCommitRequest
	KindCommitResponse
	KindRollbackRequest
	KindRollbackResponse
	KindTakeOverRequest
	KindTakeOverResponse
	KindDiagnosticRequest
	KindDiagnosticResponse
)

type envelope struct {
	Kind MessageKind    `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// WriteMessage frames kind and v (any of the message structs in
// message.go) onto w.
func WriteMessage(w io.Writer, kind MessageKind, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	env, err := json.Marshal(envelope{Kind: kind, Body: body})
	if err != nil {
		return err
	}
	return writeFrame(w, env)
}

// ReadMessage reads one framed message and returns its kind along with the
// still-encoded body, which the caller decodes with json.Unmarshal into
// the concrete type implied by kind.
func ReadMessage(r io.Reader) (MessageKind, json.RawMessage, error) {
	frame, err := readFrame(r)
	if err != nil {
		return 0, nil, err
	}
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return 0, nil, fmt.Errorf("wire: malformed message envelope: %w", err)
	}
	return env.Kind, env.Body, nil
}
