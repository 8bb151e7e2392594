package bifaci

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameReader reads length-prefixed CBOR frames from a stream
type FrameReader struct {
	reader io.Reader
	limits Limits
}

// NewFrameReader creates a new FrameReader
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		reader: r,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the reader's limits
func (fr *FrameReader) SetLimits(limits Limits) {
	fr.limits = limits
}

// ReadFrame reads a single frame from the stream
func (fr *FrameReader) ReadFrame() (*Frame, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(fr.reader, lengthBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])

	if int(length) > fr.limits.MaxFrame {
		return nil, fmt.Errorf("frame size %d exceeds max_frame limit %d", length, fr.limits.MaxFrame)
	}
	if int(length) > MaxFrameHardLimit {
		return nil, fmt.Errorf("frame size %d exceeds hard limit %d", length, MaxFrameHardLimit)
	}

	frameBuf := make([]byte, length)
	if _, err := io.ReadFull(fr.reader, frameBuf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return DecodeFrame(frameBuf)
}

// FrameWriter writes length-prefixed CBOR frames to a stream
type FrameWriter struct {
	writer io.Writer
	limits Limits
}

// NewFrameWriter creates a new FrameWriter
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{
		writer: w,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the writer's limits
func (fw *FrameWriter) SetLimits(limits Limits) {
	fw.limits = limits
}

// Limits returns the writer's current limits
func (fw *FrameWriter) Limits() Limits {
	return fw.limits
}

// WriteFrame writes a single frame to the stream
func (fw *FrameWriter) WriteFrame(frame *Frame) error {
	frameBuf, err := EncodeFrame(frame)
	if err != nil {
		return err
	}

	if len(frameBuf) > fw.limits.MaxFrame {
		return fmt.Errorf("encoded frame size %d exceeds max_frame limit %d", len(frameBuf), fw.limits.MaxFrame)
	}
	if len(frameBuf) > MaxFrameHardLimit {
		return fmt.Errorf("encoded frame size %d exceeds hard limit %d", len(frameBuf), MaxFrameHardLimit)
	}

	// Prefix and body go out in one Write so concurrent pipes never interleave them.
	out := make([]byte, 4+len(frameBuf))
	binary.BigEndian.PutUint32(out[:4], uint32(len(frameBuf)))
	copy(out[4:], frameBuf)
	_, err = fw.writer.Write(out)
	return err
}

// ResponseFrames splits an encoded result into the frames answering requestId:
// a single END when it fits in one chunk, otherwise CHUNK frames followed by an empty END.
func ResponseFrames(requestId MessageId, payload []byte, maxChunk int) []*Frame {
	if len(payload) <= maxChunk {
		return []*Frame{NewEnd(requestId, payload)}
	}

	frames := make([]*Frame, 0, len(payload)/maxChunk+2)
	chunkIndex := uint64(0)
	for offset := 0; offset < len(payload); {
		chunkSize := min(len(payload)-offset, maxChunk)
		chunkData := payload[offset : offset+chunkSize]

		frame := NewChunk(requestId, chunkIndex, chunkData, chunkIndex, ComputeChecksum(chunkData))
		off := uint64(offset)
		frame.Offset = &off
		if chunkIndex == 0 {
			total := uint64(len(payload))
			frame.Len = &total
		}
		frames = append(frames, frame)

		offset += chunkSize
		chunkIndex++
	}
	end := NewEnd(requestId, nil)
	end.Seq = chunkIndex
	return append(frames, end)
}

// HandshakeAccept performs handshake from the bridge side
func HandshakeAccept(reader *FrameReader, writer *FrameWriter, ours Limits, manifestData []byte) (Limits, error) {
	helloFrame, err := reader.ReadFrame()
	if err != nil {
		return Limits{}, fmt.Errorf("failed to read HELLO: %w", err)
	}
	if helloFrame.FrameType != FrameTypeHello {
		return Limits{}, errors.New("expected HELLO frame")
	}

	hostLimits := limitsFromMeta(helloFrame.Meta)

	if err := writer.WriteFrame(NewHelloWithManifest(ours, manifestData)); err != nil {
		return Limits{}, fmt.Errorf("failed to write HELLO response: %w", err)
	}

	return NegotiateLimits(ours, hostLimits), nil
}

// HandshakeInitiate performs handshake from the host side
func HandshakeInitiate(reader *FrameReader, writer *FrameWriter, ours Limits) ([]byte, Limits, error) {
	if err := writer.WriteFrame(NewHello(ours)); err != nil {
		return nil, Limits{}, fmt.Errorf("failed to write HELLO: %w", err)
	}

	responseFrame, err := reader.ReadFrame()
	if err != nil {
		return nil, Limits{}, fmt.Errorf("failed to read HELLO response: %w", err)
	}
	if responseFrame.FrameType != FrameTypeHello {
		return nil, Limits{}, errors.New("expected HELLO response")
	}

	var manifestData []byte
	if responseFrame.Meta != nil {
		if manifest, ok := responseFrame.Meta["manifest"].([]byte); ok {
			manifestData = manifest
		}
	}

	return manifestData, NegotiateLimits(ours, limitsFromMeta(responseFrame.Meta)), nil
}
