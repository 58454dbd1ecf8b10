// Package protocol defines the payloads exchanged over the messaging
// endpoints: status codes, integer frames, segmentation dumps and label
// triples. One socket message carries one multi-frame message, framed with
// pkg/persistence.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sanonone/pias/pkg/graph"
	"github.com/sanonone/pias/pkg/persistence"
)

// Status codes of the GetCurrentSolution reply.
const (
	SolutionSuccess     int64 = 0
	NoSolutionAvailable int64 = 1
)

// Status codes of the SetEdgeLabels reply.
const (
	LabelsSuccess   int64 = 0
	DoNotUnderstand int64 = 1
	Exception       int64 = 2
)

// Acknowledged is the only status of the RequestUpdate reply.
const Acknowledged int64 = 0

// MethodEdgeList is the only method understood by SetEdgeLabels.
const MethodEdgeList int64 = 0

const (
	IntSize    = 8
	TripleSize = 3 * IntSize
)

var (
	ErrIntSize    = errors.New("integer frame must be 8 bytes")
	ErrTripleSize = errors.New("triple payload is not a multiple of 24 bytes")
	ErrDumpSize   = errors.New("segmentation dump is not a multiple of 8 bytes")
	ErrFrameCount = errors.New("unexpected number of frames")
	ErrTrailing   = errors.New("trailing bytes after last frame")
)

// EncodeMessage packs frames into one socket message body. It fails only for
// a frame above persistence.MaxPayloadSize.
func EncodeMessage(frames [][]byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := persistence.NewFrameWriter(&buf).WriteMessage(frames); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMessage unpacks a socket message body. maxFrames bounds the frame
// count (0 means no bound).
func DecodeMessage(body []byte, maxFrames int) ([][]byte, error) {
	r := bytes.NewReader(body)
	frames, err := persistence.ReadMessage(r, maxFrames)
	if err != nil {
		return nil, err
	}
	if r.Len() > 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailing, r.Len())
	}
	return frames, nil
}

// Triple is one (u, v, label) record of a SetEdgeLabels request.
type Triple struct {
	U, V  int64
	Label int64
}

// Edge returns the normalized edge of t.
func (t Triple) Edge() graph.Edge {
	return graph.NewEdge(uint64(t.U), uint64(t.V))
}

// EncodeInt64 returns the 8-byte little-endian frame of v.
func EncodeInt64(v int64) []byte {
	buf := make([]byte, IntSize)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return buf
}

// DecodeInt64 parses an integer frame.
func DecodeInt64(frame []byte) (int64, error) {
	if len(frame) != IntSize {
		return 0, fmt.Errorf("%w: got %d", ErrIntSize, len(frame))
	}
	return int64(binary.LittleEndian.Uint64(frame)), nil
}

// DumpSegmentation writes one uint64 per node.
func DumpSegmentation(seg []uint64) []byte {
	buf := make([]byte, len(seg)*IntSize)
	for i, l := range seg {
		binary.LittleEndian.PutUint64(buf[i*IntSize:], l)
	}
	return buf
}

// ParseSegmentation is the inverse of DumpSegmentation.
func ParseSegmentation(dump []byte) ([]uint64, error) {
	if len(dump)%IntSize != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrDumpSize, len(dump))
	}
	seg := make([]uint64, len(dump)/IntSize)
	for i := range seg {
		seg[i] = binary.LittleEndian.Uint64(dump[i*IntSize:])
	}
	return seg, nil
}

// EncodeTriples packs triples as consecutive 24-byte records.
func EncodeTriples(triples []Triple) []byte {
	buf := make([]byte, len(triples)*TripleSize)
	for i, t := range triples {
		off := i * TripleSize
		binary.LittleEndian.PutUint64(buf[off:], uint64(t.U))
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(t.V))
		binary.LittleEndian.PutUint64(buf[off+16:], uint64(t.Label))
	}
	return buf
}

// DecodeTriples is the inverse of EncodeTriples.
func DecodeTriples(payload []byte) ([]Triple, error) {
	if len(payload)%TripleSize != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrTripleSize, len(payload))
	}
	triples := make([]Triple, len(payload)/TripleSize)
	for i := range triples {
		off := i * TripleSize
		triples[i] = Triple{
			U:     int64(binary.LittleEndian.Uint64(payload[off:])),
			V:     int64(binary.LittleEndian.Uint64(payload[off+8:])),
			Label: int64(binary.LittleEndian.Uint64(payload[off+16:])),
		}
	}
	return triples, nil
}

// Split converts triples into parallel edge and label slices. Negative node
// ids are rejected.
func Split(triples []Triple) ([]graph.Edge, []int, error) {
	edges := make([]graph.Edge, len(triples))
	labels := make([]int, len(triples))
	for i, t := range triples {
		if t.U < 0 || t.V < 0 {
			return nil, nil, fmt.Errorf("triple %d: negative node id (%d, %d)", i, t.U, t.V)
		}
		edges[i] = t.Edge()
		labels[i] = int(t.Label)
	}
	return edges, labels, nil
}

// Reply is a two-frame status reply.
type Reply struct {
	Status int64
	Body   []byte
}

// Frames returns the wire frames of r.
func (r Reply) Frames() [][]byte {
	return [][]byte{EncodeInt64(r.Status), r.Body}
}

// ParseReply parses a two-frame status reply.
func ParseReply(frames [][]byte) (Reply, error) {
	if len(frames) != 2 {
		return Reply{}, fmt.Errorf("%w: got %d, want 2", ErrFrameCount, len(frames))
	}
	status, err := DecodeInt64(frames[0])
	if err != nil {
		return Reply{}, fmt.Errorf("status: %w", err)
	}
	return Reply{Status: status, Body: frames[1]}, nil
}

// Notification is one NewSolutionNotify broadcast.
type Notification struct {
	SolutionID uint64
	Outcome    int64
}

// Frames returns the wire frames of n.
func (n Notification) Frames() [][]byte {
	return [][]byte{EncodeInt64(int64(n.SolutionID)), EncodeInt64(n.Outcome)}
}

// ParseNotification parses a NewSolutionNotify broadcast.
func ParseNotification(frames [][]byte) (Notification, error) {
	if len(frames) != 2 {
		return Notification{}, fmt.Errorf("%w: got %d, want 2", ErrFrameCount, len(frames))
	}
	id, err := DecodeInt64(frames[0])
	if err != nil {
		return Notification{}, fmt.Errorf("solution id: %w", err)
	}
	outcome, err := DecodeInt64(frames[1])
	if err != nil {
		return Notification{}, fmt.Errorf("outcome: %w", err)
	}
	return Notification{SolutionID: uint64(id), Outcome: outcome}, nil
}
