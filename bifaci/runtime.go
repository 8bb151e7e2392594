package bifaci

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
)

// Codes the runtime itself puts in ERR frames.
const (
	CodeNotImplemented = "NotImplemented"
	CodeInternalError  = "InternalError"
	CodeHandlerError   = "HANDLER_ERROR"
	CodeProtocolError  = "PROTOCOL_ERROR"
	CodeEncodeError    = "ENCODE_ERROR"
)

// HandlerFunc handles a single method call. The returned value is CBOR-encoded
// into the END frame; a nil value produces an END without payload.
type HandlerFunc func(ctx context.Context, call *Call) (interface{}, error)

// CallError is a handler error carried to the host as an ERR frame with its own code.
type CallError struct {
	Code    string
	Message string
	Details string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Call is one incoming method call.
type Call struct {
	Id     MessageId
	Method string

	payload []byte
	rt      *Runtime
}

// Decode decodes the CBOR arguments into v.
func (c *Call) Decode(v interface{}) error {
	if err := DecodeValue(c.payload, v); err != nil {
		return fmt.Errorf("decode %s arguments: %w", c.Method, err)
	}
	return nil
}

// Log sends a LOG frame correlated with this call.
func (c *Call) Log(level, message string) {
	c.rt.send(NewLog(c.Id, level, message))
}

// Runtime serves method calls from a host over a frame stream. Each REQ runs
// in its own goroutine; all outgoing frames go through one writer goroutine.
type Runtime struct {
	handlers map[string]HandlerFunc
	manifest *Manifest
	limits   Limits
	logger   *slog.Logger
	mu       sync.RWMutex

	out *outbox
}

// NewRuntime creates a runtime advertising manifest during the handshake.
func NewRuntime(manifest *Manifest) *Runtime {
	if manifest == nil {
		manifest = NewManifest("bridge", "0.0.0", "")
	}
	return &Runtime{
		handlers: make(map[string]HandlerFunc),
		manifest: manifest,
		limits:   DefaultLimits(),
		logger:   slog.Default(),
	}
}

// SetLimits sets the limits offered to the host. Must be called before Run.
func (rt *Runtime) SetLimits(limits Limits) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.limits = limits.Sanitize()
}

// Limits returns the current protocol limits (negotiated once Run has shaken hands).
func (rt *Runtime) Limits() Limits {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.limits
}

// SetLogger replaces the logger used for transport diagnostics.
func (rt *Runtime) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.logger = logger
}

// Register registers a handler for a method name
func (rt *Runtime) Register(method string, handler HandlerFunc) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.handlers[method] = handler
}

// FindHandler returns the handler for method, or nil.
func (rt *Runtime) FindHandler(method string) HandlerFunc {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.handlers[method]
}

// Methods returns the registered method names, sorted.
func (rt *Runtime) Methods() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	methods := make([]string, 0, len(rt.handlers))
	for name := range rt.handlers {
		methods = append(methods, name)
	}
	sort.Strings(methods)
	return methods
}

// Emit pushes an EVENT frame to the host. It fails when the runtime is not running.
func (rt *Runtime) Emit(method string, value interface{}) error {
	payload, err := EncodeValue(value)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", method, err)
	}
	if !rt.send(NewEvent(NewMessageIdRandom(), method, payload)) {
		return errors.New("runtime is not running")
	}
	return nil
}

// Log sends a LOG frame that is not tied to a call. Best effort.
func (rt *Runtime) Log(level, message string) {
	rt.send(NewLog(NewMessageIdFromUint(0), level, message))
}

func (rt *Runtime) send(frame *Frame) bool {
	rt.mu.RLock()
	out := rt.out
	rt.mu.RUnlock()
	if out == nil {
		return false
	}
	return out.send(frame)
}

func (rt *Runtime) log() *slog.Logger {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.logger
}

// Run performs the handshake and serves calls until r reaches EOF or ctx is
// cancelled. In-flight handlers see a cancelled context and are awaited before
// Run returns.
func (rt *Runtime) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := NewFrameReader(r)
	rawWriter := NewFrameWriter(w)

	manifestData, err := rt.manifest.withMethods(rt.Methods())
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	// Handshake is single-threaded so the raw writer is safe here
	negotiated, err := HandshakeAccept(reader, rawWriter, rt.Limits(), manifestData)
	if err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}
	reader.SetLimits(negotiated)
	rawWriter.SetLimits(negotiated)

	out := newOutbox(64)
	rt.mu.Lock()
	rt.limits = negotiated
	rt.out = out
	rt.mu.Unlock()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		rt.writerLoop(rawWriter, out)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan *Frame, 64)
	readDone := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			frame, err := reader.ReadFrame()
			if err != nil {
				if errors.Is(err, io.EOF) {
					readDone <- nil
				} else {
					readDone <- err
				}
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				readDone <- nil
				return
			}
		}
	}()

	var activeHandlers sync.WaitGroup
	var runErr error

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case frame, ok := <-frames:
			if !ok {
				if err := <-readDone; err != nil {
					runErr = fmt.Errorf("failed to read frame: %w", err)
				}
				break loop
			}
			rt.handleFrame(ctx, frame, &activeHandlers)
		}
	}

	cancel()
	activeHandlers.Wait()

	rt.mu.Lock()
	rt.out = nil
	rt.mu.Unlock()
	out.close()
	<-writerDone

	return runErr
}

func (rt *Runtime) handleFrame(ctx context.Context, frame *Frame, active *sync.WaitGroup) {
	switch frame.FrameType {
	case FrameTypeReq:
		method := frame.MethodName()
		handler := rt.FindHandler(method)
		if handler == nil {
			rt.send(NewErr(frame.Id, CodeNotImplemented, fmt.Sprintf("no handler registered for method: %s", method)))
			return
		}
		call := &Call{Id: frame.Id, Method: method, payload: frame.Payload, rt: rt}
		active.Add(1)
		go func() {
			defer active.Done()
			rt.dispatch(ctx, handler, call)
		}()

	case FrameTypeHeartbeat:
		// Answered from the read loop, never blocked by handlers
		rt.send(NewHeartbeat(frame.Id))

	case FrameTypeHello:
		rt.send(NewErr(frame.Id, CodeProtocolError, "unexpected HELLO after handshake"))

	default:
		rt.log().Warn("ignoring unexpected frame", "type", frame.FrameType.String(), "id", frame.Id.ToString())
	}
}

func (rt *Runtime) dispatch(ctx context.Context, handler HandlerFunc, call *Call) {
	result, err := rt.invoke(ctx, handler, call)
	if err != nil {
		rt.send(errorFrame(call.Id, err))
		return
	}

	payload, err := EncodeValue(result)
	if err != nil {
		rt.send(NewErr(call.Id, CodeEncodeError, err.Error()))
		return
	}
	for _, frame := range ResponseFrames(call.Id, payload, rt.Limits().MaxChunk) {
		if !rt.send(frame) {
			return
		}
	}
}

func (rt *Runtime) invoke(ctx context.Context, handler HandlerFunc, call *Call) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			rt.log().Error("handler panicked", "method", call.Method, "panic", r, "stack", string(debug.Stack()))
			result = nil
			err = &CallError{Code: CodeInternalError, Message: fmt.Sprintf("%s: %v", call.Method, r)}
		}
	}()
	return handler(ctx, call)
}

func errorFrame(id MessageId, err error) *Frame {
	var callErr *CallError
	if errors.As(err, &callErr) {
		frame := NewErr(id, callErr.Code, callErr.Message)
		if callErr.Details != "" {
			frame.Meta["details"] = callErr.Details
		}
		return frame
	}
	return NewErr(id, CodeHandlerError, err.Error())
}

func (rt *Runtime) writerLoop(writer *FrameWriter, out *outbox) {
	failed := false
	for frame := range out.ch {
		if failed {
			continue
		}
		if err := writer.WriteFrame(frame); err != nil {
			// Keep draining so senders never block on a dead transport
			rt.log().Error("failed to write frame", "type", frame.FrameType.String(), "err", err)
			failed = true
		}
	}
}

// outbox is the single delivery queue feeding the writer goroutine.
type outbox struct {
	mu     sync.RWMutex
	ch     chan *Frame
	closed bool
}

func newOutbox(size int) *outbox {
	return &outbox{ch: make(chan *Frame, size)}
}

func (o *outbox) send(frame *Frame) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return false
	}
	o.ch <- frame
	return true
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}
