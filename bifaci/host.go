package bifaci

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// HostError represents errors seen by the calling side of the bridge
type HostError struct {
	Type    HostErrorType
	Message string
	Code    string
	Details string
}

type HostErrorType int

const (
	HostErrorTypeCbor HostErrorType = iota
	HostErrorTypeIo
	HostErrorTypeCallError
	HostErrorTypeProtocol
	HostErrorTypeHandshake
	HostErrorTypeClosed
)

func (e *HostError) Error() string {
	switch e.Type {
	case HostErrorTypeCbor:
		return fmt.Sprintf("CBOR error: %s", e.Message)
	case HostErrorTypeIo:
		return fmt.Sprintf("I/O error: %s", e.Message)
	case HostErrorTypeCallError:
		return fmt.Sprintf("Bridge returned error: [%s] %s", e.Code, e.Message)
	case HostErrorTypeProtocol:
		return fmt.Sprintf("Protocol error: %s", e.Message)
	case HostErrorTypeHandshake:
		return fmt.Sprintf("Handshake failed: %s", e.Message)
	case HostErrorTypeClosed:
		return "Host is closed"
	default:
		return fmt.Sprintf("Unknown error: %s", e.Message)
	}
}

// Response is the reassembled result of a call.
type Response struct {
	payload []byte
}

// Bytes returns the raw CBOR result.
func (r *Response) Bytes() []byte {
	return r.payload
}

// Decode decodes the CBOR result into v.
func (r *Response) Decode(v interface{}) error {
	return DecodeValue(r.payload, v)
}

// IsEmpty reports whether the call returned no value.
func (r *Response) IsEmpty() bool {
	return len(r.payload) == 0
}

// Event is a notification pushed by the bridge.
type Event struct {
	Method  string
	Payload []byte
}

// Decode decodes the CBOR event payload into v.
func (e Event) Decode(v interface{}) error {
	return DecodeValue(e.Payload, v)
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithEventHandler sets the callback receiving EVENT frames. It runs on the reader goroutine.
func WithEventHandler(fn func(Event)) HostOption {
	return func(h *Host) { h.onEvent = fn }
}

// WithLogHandler sets the callback receiving LOG frames. It runs on the reader goroutine.
func WithLogHandler(fn func(level, message string)) HostOption {
	return func(h *Host) { h.onLog = fn }
}

// WithHostLimits sets the limits offered during the handshake.
func WithHostLimits(limits Limits) HostOption {
	return func(h *Host) { h.limits = limits.Sanitize() }
}

type pendingCall struct {
	chunks     []byte
	nextChunk  uint64
	resultCh   chan callResult
	isHearbeat bool
}

type callResult struct {
	payload []byte
	err     error
}

// Host is the calling side of the bridge: it performs the handshake and issues calls.
type Host struct {
	manifest []byte
	limits   Limits
	writerCh chan *Frame
	onEvent  func(Event)
	onLog    func(level, message string)

	mu      sync.Mutex
	pending map[string]*pendingCall
	closed  bool
	broken  error
	closeCh chan struct{}
	closer  io.Closer
}

// Connect performs the handshake over the given streams and starts the reader
// and writer goroutines.
func Connect(r io.Reader, w io.Writer, opts ...HostOption) (*Host, error) {
	h := &Host{
		limits:   DefaultLimits(),
		writerCh: make(chan *Frame, 64),
		pending:  make(map[string]*pendingCall),
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if c, ok := w.(io.Closer); ok {
		h.closer = c
	}

	reader := NewFrameReader(r)
	writer := NewFrameWriter(w)

	manifest, limits, err := HandshakeInitiate(reader, writer, h.limits)
	if err != nil {
		return nil, &HostError{Type: HostErrorTypeHandshake, Message: err.Error()}
	}
	reader.SetLimits(limits)
	writer.SetLimits(limits)
	h.manifest = manifest
	h.limits = limits

	go h.writerLoop(writer)
	go h.readerLoop(reader)

	return h, nil
}

// Manifest returns the manifest JSON received during the handshake.
func (h *Host) Manifest() []byte {
	return h.manifest
}

// Limits returns the negotiated limits.
func (h *Host) Limits() Limits {
	return h.limits
}

// Call invokes method with args (CBOR-encoded) and waits for the END or ERR frame.
func (h *Host) Call(ctx context.Context, method string, args interface{}) (*Response, error) {
	payload, err := EncodeValue(args)
	if err != nil {
		return nil, &HostError{Type: HostErrorTypeCbor, Message: err.Error()}
	}
	id := NewMessageIdRandom()
	res, err := h.roundTrip(ctx, id, NewReq(id, method, payload), false)
	if err != nil {
		return nil, err
	}
	return &Response{payload: res}, nil
}

// Heartbeat sends a HEARTBEAT and waits for the echo.
func (h *Host) Heartbeat(ctx context.Context) error {
	id := NewMessageIdRandom()
	_, err := h.roundTrip(ctx, id, NewHeartbeat(id), true)
	return err
}

func (h *Host) roundTrip(ctx context.Context, id MessageId, frame *Frame, heartbeat bool) ([]byte, error) {
	key := id.ToString()
	call := &pendingCall{resultCh: make(chan callResult, 1), isHearbeat: heartbeat}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, &HostError{Type: HostErrorTypeClosed}
	}
	if h.broken != nil {
		err := h.broken
		h.mu.Unlock()
		return nil, err
	}
	h.pending[key] = call
	h.mu.Unlock()

	select {
	case h.writerCh <- frame:
	case <-h.closeCh:
		return nil, &HostError{Type: HostErrorTypeClosed}
	case <-ctx.Done():
		h.forget(key)
		return nil, ctx.Err()
	}

	select {
	case res := <-call.resultCh:
		return res.payload, res.err
	case <-ctx.Done():
		h.forget(key)
		return nil, ctx.Err()
	}
}

func (h *Host) forget(key string) {
	h.mu.Lock()
	delete(h.pending, key)
	h.mu.Unlock()
}

// Close closes the outgoing stream; the bridge sees EOF and shuts down.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.closeCh)
	h.mu.Unlock()

	if h.closer != nil {
		return h.closer.Close()
	}
	return nil
}

func (h *Host) writerLoop(writer *FrameWriter) {
	for {
		select {
		case frame := <-h.writerCh:
			if err := writer.WriteFrame(frame); err != nil {
				h.failAll(&HostError{Type: HostErrorTypeIo, Message: err.Error()})
				return
			}
		case <-h.closeCh:
			return
		}
	}
}

func (h *Host) readerLoop(reader *FrameReader) {
	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				h.failAll(&HostError{Type: HostErrorTypeClosed})
			} else {
				h.failAll(&HostError{Type: HostErrorTypeIo, Message: err.Error()})
			}
			return
		}
		h.handleFrame(frame)
	}
}

func (h *Host) handleFrame(frame *Frame) {
	switch frame.FrameType {
	case FrameTypeEvent:
		if h.onEvent != nil {
			h.onEvent(Event{Method: frame.MethodName(), Payload: frame.Payload})
		}
		return
	case FrameTypeLog:
		if h.onLog != nil {
			h.onLog(frame.LogLevel(), frame.LogMessage())
		}
		return
	}

	key := frame.Id.ToString()
	h.mu.Lock()
	call, ok := h.pending[key]
	if !ok {
		h.mu.Unlock()
		if frame.FrameType == FrameTypeHeartbeat {
			// Bridge-initiated heartbeat
			h.send(NewHeartbeat(frame.Id))
		}
		return
	}

	var result *callResult
	switch frame.FrameType {
	case FrameTypeHeartbeat:
		if call.isHearbeat {
			result = &callResult{}
		}
	case FrameTypeChunk:
		if err := VerifyChunkChecksum(frame); err != nil {
			result = &callResult{err: &HostError{Type: HostErrorTypeProtocol, Message: err.Error()}}
		} else if *frame.ChunkIndex != call.nextChunk {
			result = &callResult{err: &HostError{Type: HostErrorTypeProtocol, Message: fmt.Sprintf("chunk %d out of order, expected %d", *frame.ChunkIndex, call.nextChunk)}}
		} else {
			call.chunks = append(call.chunks, frame.Payload...)
			call.nextChunk++
		}
	case FrameTypeEnd:
		payload := frame.Payload
		if call.nextChunk > 0 {
			payload = append(call.chunks, frame.Payload...)
		}
		result = &callResult{payload: payload}
	case FrameTypeErr:
		result = &callResult{err: &HostError{
			Type:    HostErrorTypeCallError,
			Code:    frame.ErrorCode(),
			Message: frame.ErrorMessage(),
			Details: frame.ErrorDetails(),
		}}
	}
	if result != nil {
		delete(h.pending, key)
	}
	h.mu.Unlock()

	if result != nil {
		call.resultCh <- *result
	}
}

func (h *Host) send(frame *Frame) {
	select {
	case h.writerCh <- frame:
	case <-h.closeCh:
	}
}

func (h *Host) failAll(err error) {
	h.mu.Lock()
	pending := h.pending
	h.pending = make(map[string]*pendingCall)
	if h.broken == nil {
		h.broken = err
	}
	h.mu.Unlock()

	for _, call := range pending {
		call.resultCh <- callResult{err: err}
	}
}
