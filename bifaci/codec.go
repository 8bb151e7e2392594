package bifaci

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ContentTypeCBOR marks REQ and EVENT payloads encoded as a single CBOR value.
const ContentTypeCBOR = "application/cbor"

// CBOR map keys
const (
	keyVersion     = 0  // version (u8)
	keyFrameType   = 1  // frame_type (u8)
	keyId          = 2  // id (bytes[16] or uint)
	keySeq         = 3  // seq (u64)
	keyContentType = 4  // content_type (tstr, optional)
	keyMeta        = 5  // meta (map, optional)
	keyPayload     = 6  // payload (bstr, optional)
	keyLen         = 7  // len (u64, optional - total payload length for chunked)
	keyOffset      = 8  // offset (u64, optional - byte offset in chunked response)
	keyEof         = 9  // eof (bool, optional - true on final frame)
	keyMethod      = 10 // method (tstr, optional - REQ and EVENT frames)
	keyChunkIndex  = 14 // chunk_index (u64, REQUIRED for CHUNK frames)
	keyChecksum    = 16 // checksum (u64, REQUIRED for CHUNK frames - FNV-1a hash)
)

// EncodeFrame encodes a Frame to CBOR bytes using integer keys
func EncodeFrame(frame *Frame) ([]byte, error) {
	m := make(map[int]interface{})

	m[keyVersion] = uint8(ProtocolVersion)
	m[keyFrameType] = uint8(frame.FrameType)

	// id: bytes[16] for UUID, uint64 for uint variant
	if frame.Id.IsUuid() {
		m[keyId] = frame.Id.uuidBytes
	} else if frame.Id.uintValue != nil {
		m[keyId] = *frame.Id.uintValue
	} else {
		m[keyId] = uint64(0)
	}

	if frame.Seq != 0 {
		m[keySeq] = frame.Seq
	}
	if frame.ContentType != nil && *frame.ContentType != "" {
		m[keyContentType] = *frame.ContentType
	}
	if len(frame.Meta) > 0 {
		m[keyMeta] = frame.Meta
	}
	if frame.Payload != nil {
		m[keyPayload] = frame.Payload
	}
	if frame.Len != nil {
		m[keyLen] = *frame.Len
	}
	if frame.Offset != nil {
		m[keyOffset] = *frame.Offset
	}
	if frame.Eof != nil && *frame.Eof {
		m[keyEof] = true
	}
	if frame.Method != nil && *frame.Method != "" {
		m[keyMethod] = *frame.Method
	}
	if frame.ChunkIndex != nil {
		m[keyChunkIndex] = *frame.ChunkIndex
	}
	if frame.Checksum != nil {
		m[keyChecksum] = *frame.Checksum
	}

	return cbor.Marshal(m)
}

// DecodeFrame decodes CBOR bytes to a Frame using integer keys
func DecodeFrame(data []byte) (*Frame, error) {
	var m map[int]interface{}
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	frame := &Frame{}

	verVal, ok := m[keyVersion]
	if !ok {
		return nil, errors.New("missing version (key 0)")
	}
	ver, ok := verVal.(uint64)
	if !ok {
		return nil, errors.New("version must be uint")
	}
	frame.Version = uint8(ver)
	if frame.Version != ProtocolVersion {
		return nil, fmt.Errorf("invalid version %d, expected %d", frame.Version, ProtocolVersion)
	}

	ftVal, ok := m[keyFrameType]
	if !ok {
		return nil, errors.New("missing frame_type (key 1)")
	}
	ft, ok := ftVal.(uint64)
	if !ok {
		return nil, errors.New("frame_type must be uint")
	}
	frameType := FrameType(ft)
	if frameType > FrameTypeEvent || frameType == 2 {
		return nil, fmt.Errorf("invalid frame_type %d", ft)
	}
	frame.FrameType = frameType

	idVal, ok := m[keyId]
	if !ok {
		return nil, errors.New("missing id (key 2)")
	}
	switch v := idVal.(type) {
	case []byte:
		if len(v) != 16 {
			return nil, errors.New("UUID id must be 16 bytes")
		}
		frame.Id = MessageId{uuidBytes: v}
	case uint64:
		frame.Id = NewMessageIdFromUint(v)
	default:
		return nil, errors.New("id must be bytes[16] or uint")
	}

	if seq, ok := m[keySeq].(uint64); ok {
		frame.Seq = seq
	}
	if ct, ok := m[keyContentType].(string); ok {
		frame.ContentType = &ct
	}

	// Meta arrives as map[interface{}]interface{}; only string keys are kept.
	if meta, ok := m[keyMeta].(map[interface{}]interface{}); ok {
		frame.Meta = make(map[string]interface{}, len(meta))
		for k, v := range meta {
			if ks, ok := k.(string); ok {
				frame.Meta[ks] = v
			}
		}
	}

	if payload, ok := m[keyPayload].([]byte); ok {
		frame.Payload = payload
	}
	if l, ok := m[keyLen].(uint64); ok {
		frame.Len = &l
	}
	if offset, ok := m[keyOffset].(uint64); ok {
		frame.Offset = &offset
	}
	if eof, ok := m[keyEof].(bool); ok {
		frame.Eof = &eof
	}
	if method, ok := m[keyMethod].(string); ok {
		frame.Method = &method
	}
	frame.ChunkIndex = decodeUint(m[keyChunkIndex])
	frame.Checksum = decodeUint(m[keyChecksum])

	switch frame.FrameType {
	case FrameTypeChunk:
		if frame.ChunkIndex == nil {
			return nil, errors.New("CHUNK frame missing required field: chunk_index")
		}
		if frame.Checksum == nil {
			return nil, errors.New("CHUNK frame missing required field: checksum")
		}
	case FrameTypeReq, FrameTypeEvent:
		if frame.Method == nil || *frame.Method == "" {
			return nil, fmt.Errorf("%s frame missing required field: method", frame.FrameType)
		}
	}

	return frame, nil
}

func decodeUint(v interface{}) *uint64 {
	var u uint64
	switch n := v.(type) {
	case uint64:
		u = n
	case int64:
		u = uint64(n)
	case int:
		u = uint64(n)
	case uint:
		u = uint64(n)
	default:
		return nil
	}
	return &u
}

// EncodeValue encodes a handler argument or result as a single CBOR value.
func EncodeValue(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return cbor.Marshal(v)
}

// DecodeValue decodes a CBOR payload into v. An empty payload leaves v untouched.
func DecodeValue(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return cbor.Unmarshal(data, v)
}
