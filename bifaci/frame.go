package bifaci

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Protocol version. Version 1: method-call frames, negotiated chunk limits, bridge events.
const ProtocolVersion uint8 = 1

// Default maximum frame size (3.5 MB).
// Larger results automatically use CHUNK frames
const DefaultMaxFrame int = 3_670_016

// Default maximum chunk size (256 KB)
const DefaultMaxChunk int = 262_144

// Hard limit on frame size (16 MB)
const MaxFrameHardLimit int = 16_777_216

// FrameType represents the type of CBOR frame
type FrameType uint8

const (
	FrameTypeHello FrameType = 0
	FrameTypeReq   FrameType = 1
	// 2 is reserved
	FrameTypeChunk     FrameType = 3
	FrameTypeEnd       FrameType = 4
	FrameTypeLog       FrameType = 5
	FrameTypeErr       FrameType = 6
	FrameTypeHeartbeat FrameType = 7
	FrameTypeEvent     FrameType = 8 // Bridge-initiated notification (onPageChanged, ...)
)

// String returns the frame type name
func (ft FrameType) String() string {
	switch ft {
	case FrameTypeReq:
		return "REQ"
	case FrameTypeChunk:
		return "CHUNK"
	case FrameTypeEnd:
		return "END"
	case FrameTypeErr:
		return "ERR"
	case FrameTypeLog:
		return "LOG"
	case FrameTypeHeartbeat:
		return "HEARTBEAT"
	case FrameTypeHello:
		return "HELLO"
	case FrameTypeEvent:
		return "EVENT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", ft)
	}
}

// MessageId represents a unique message identifier (either UUID or uint64)
type MessageId struct {
	uuidBytes []byte  // 16 bytes for UUID variant
	uintValue *uint64 // For uint variant
}

// NewMessageIdFromUuid creates a MessageId from UUID bytes
func NewMessageIdFromUuid(uuidBytes []byte) (MessageId, error) {
	if len(uuidBytes) != 16 {
		return MessageId{}, errors.New("UUID must be exactly 16 bytes")
	}
	return MessageId{uuidBytes: uuidBytes}, nil
}

// NewMessageIdFromUint creates a MessageId from a uint64
func NewMessageIdFromUint(value uint64) MessageId {
	return MessageId{uintValue: &value}
}

// NewMessageIdRandom creates a random UUID-based MessageId
func NewMessageIdRandom() MessageId {
	id := uuid.New()
	bytes, _ := id.MarshalBinary()
	return MessageId{uuidBytes: bytes}
}

// IsUuid returns true if this is a UUID-based ID
func (m MessageId) IsUuid() bool {
	return m.uuidBytes != nil
}

// ToString returns string representation for both UUID and uint variants
func (m MessageId) ToString() string {
	if m.uuidBytes != nil {
		if id, err := uuid.FromBytes(m.uuidBytes); err == nil {
			return id.String()
		}
	}
	if m.uintValue != nil {
		return fmt.Sprintf("%d", *m.uintValue)
	}
	return "0"
}

// AsBytes returns bytes for comparison
func (m MessageId) AsBytes() []byte {
	if m.uuidBytes != nil {
		return m.uuidBytes
	}
	buf := make([]byte, 8)
	if m.uintValue != nil {
		binary.BigEndian.PutUint64(buf, *m.uintValue)
	}
	return buf
}

// Equals checks if two MessageIds are equal
func (m MessageId) Equals(other MessageId) bool {
	if m.uuidBytes != nil && other.uuidBytes != nil {
		return string(m.uuidBytes) == string(other.uuidBytes)
	}
	if m.uintValue != nil && other.uintValue != nil {
		return *m.uintValue == *other.uintValue
	}
	return false
}

// Frame represents a CBOR protocol frame
type Frame struct {
	Version     uint8                  // Protocol version
	FrameType   FrameType              // Frame type discriminator
	Id          MessageId              // Message ID for correlation (request ID)
	Seq         uint64                 // Sequence number within a response
	ContentType *string                // Content type of payload
	Meta        map[string]interface{} // Metadata map (ERR/LOG data, HELLO limits)
	Payload     []byte                 // Binary payload
	Len         *uint64                // Total length for chunked transfers (first chunk only)
	Offset      *uint64                // Byte offset in chunked response
	Eof         *bool                  // End of response marker
	Method      *string                // Method name (REQ and EVENT frames)
	ChunkIndex  *uint64                // Chunk index (REQUIRED for CHUNK frames)
	Checksum    *uint64                // Payload checksum (FNV-1a, REQUIRED for CHUNK frames)
}

func newFrame(frameType FrameType, id MessageId) *Frame {
	return &Frame{
		Version:   ProtocolVersion,
		FrameType: frameType,
		Id:        id,
	}
}

// NewReq creates a REQ frame calling method with CBOR-encoded arguments
func NewReq(id MessageId, method string, args []byte) *Frame {
	frame := newFrame(FrameTypeReq, id)
	frame.Method = &method
	frame.Payload = args
	contentType := ContentTypeCBOR
	frame.ContentType = &contentType
	return frame
}

// NewChunk creates a CHUNK frame carrying part of a response
func NewChunk(reqId MessageId, seq uint64, payload []byte, chunkIndex uint64, checksum uint64) *Frame {
	frame := newFrame(FrameTypeChunk, reqId)
	frame.Seq = seq
	frame.Payload = payload
	frame.ChunkIndex = &chunkIndex
	frame.Checksum = &checksum
	return frame
}

// NewEnd creates an END frame
func NewEnd(id MessageId, payload []byte) *Frame {
	frame := newFrame(FrameTypeEnd, id)
	if payload != nil {
		frame.Payload = payload
	}
	eof := true
	frame.Eof = &eof
	return frame
}

// NewErr creates an ERR frame. code and message are stored in the Meta map
func NewErr(id MessageId, code string, message string) *Frame {
	frame := newFrame(FrameTypeErr, id)
	frame.Meta = map[string]interface{}{
		"code":    code,
		"message": message,
	}
	return frame
}

// NewLog creates a LOG frame. level and message are stored in the Meta map
func NewLog(id MessageId, level string, message string) *Frame {
	frame := newFrame(FrameTypeLog, id)
	frame.Meta = map[string]interface{}{
		"level":   level,
		"message": message,
	}
	return frame
}

// NewEvent creates an EVENT frame pushing a notification to the host
func NewEvent(id MessageId, method string, payload []byte) *Frame {
	frame := newFrame(FrameTypeEvent, id)
	frame.Method = &method
	frame.Payload = payload
	contentType := ContentTypeCBOR
	frame.ContentType = &contentType
	return frame
}

// NewHeartbeat creates a HEARTBEAT frame
func NewHeartbeat(id MessageId) *Frame {
	return newFrame(FrameTypeHeartbeat, id)
}

// NewHello creates a HELLO frame for handshake (host side - no manifest)
func NewHello(limits Limits) *Frame {
	frame := newFrame(FrameTypeHello, NewMessageIdFromUint(0))
	frame.Meta = map[string]interface{}{
		"max_frame": limits.MaxFrame,
		"max_chunk": limits.MaxChunk,
		"version":   ProtocolVersion,
	}
	return frame
}

// NewHelloWithManifest creates a HELLO frame with manifest (bridge side)
func NewHelloWithManifest(limits Limits, manifest []byte) *Frame {
	frame := NewHello(limits)
	frame.Meta["manifest"] = manifest
	return frame
}

// ErrorCode gets error code from ERR frame meta
func (f *Frame) ErrorCode() string {
	return f.metaString(FrameTypeErr, "code")
}

// ErrorMessage gets error message from ERR frame meta
func (f *Frame) ErrorMessage() string {
	return f.metaString(FrameTypeErr, "message")
}

// ErrorDetails gets the optional diagnostic details from ERR frame meta
func (f *Frame) ErrorDetails() string {
	return f.metaString(FrameTypeErr, "details")
}

// LogLevel gets log level from LOG frame meta
func (f *Frame) LogLevel() string {
	return f.metaString(FrameTypeLog, "level")
}

// LogMessage gets log message from LOG frame meta
func (f *Frame) LogMessage() string {
	return f.metaString(FrameTypeLog, "message")
}

// MethodName returns the method of a REQ or EVENT frame, or "".
func (f *Frame) MethodName() string {
	if f.Method == nil {
		return ""
	}
	return *f.Method
}

func (f *Frame) metaString(ft FrameType, key string) string {
	if f.FrameType != ft || f.Meta == nil {
		return ""
	}
	if s, ok := f.Meta[key].(string); ok {
		return s
	}
	return ""
}

// extractIntFromMeta extracts an integer from a meta map, handling CBOR type variance.
// CBOR libraries may decode integers as int, int64, uint64, or float64.
func extractIntFromMeta(meta map[string]interface{}, key string) int {
	v, ok := meta[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// ComputeChecksum computes FNV-1a 64-bit hash of data
func ComputeChecksum(data []byte) uint64 {
	const fnvOffsetBasis = uint64(0xcbf29ce484222325)
	const fnvPrime = uint64(0x100000001b3)

	hash := fnvOffsetBasis
	for _, b := range data {
		hash ^= uint64(b)
		hash *= fnvPrime
	}
	return hash
}

// VerifyChunkChecksum verifies a CHUNK frame's checksum matches its payload.
func VerifyChunkChecksum(frame *Frame) error {
	if frame.Checksum == nil {
		return fmt.Errorf("CHUNK frame missing required checksum field")
	}
	expected := ComputeChecksum(frame.Payload)
	if *frame.Checksum != expected {
		return fmt.Errorf("CHUNK checksum mismatch: expected %d, got %d (payload %d bytes)", expected, *frame.Checksum, len(frame.Payload))
	}
	return nil
}

// IsEof checks if this is the final frame of a response
func (f *Frame) IsEof() bool {
	return f.Eof != nil && *f.Eof
}

// IsTerminal reports whether the frame completes a request (END or ERR).
func (f *Frame) IsTerminal() bool {
	return f.FrameType == FrameTypeEnd || f.FrameType == FrameTypeErr
}
