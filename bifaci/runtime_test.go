package bifaci

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bridgeHarness struct {
	host   *Host
	runErr chan error
	events chan Event
	logs   chan string
}

// startBridge wires rt and a Host together over two pipes.
func startBridge(t *testing.T, rt *Runtime, opts ...HostOption) *bridgeHarness {
	t.Helper()
	hostRead, bridgeWrite := io.Pipe()
	bridgeRead, hostWrite := io.Pipe()

	h := &bridgeHarness{
		runErr: make(chan error, 1),
		events: make(chan Event, 16),
		logs:   make(chan string, 16),
	}
	go func() {
		err := rt.Run(context.Background(), bridgeRead, bridgeWrite)
		bridgeWrite.Close()
		h.runErr <- err
	}()

	opts = append([]HostOption{
		WithEventHandler(func(e Event) { h.events <- e }),
		WithLogHandler(func(level, message string) { h.logs <- level + ":" + message }),
	}, opts...)
	host, err := Connect(hostRead, hostWrite, opts...)
	require.NoError(t, err)
	h.host = host

	t.Cleanup(func() {
		host.Close()
		select {
		case <-h.runErr:
		case <-time.After(5 * time.Second):
			t.Error("runtime did not stop after host closed")
		}
	})
	return h
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRuntimeCallReturnsHandlerResult(t *testing.T) {
	rt := NewRuntime(NewManifest("test-bridge", "1.0.0", "test"))
	rt.Register("echo", func(ctx context.Context, call *Call) (interface{}, error) {
		var args []string
		if err := call.Decode(&args); err != nil {
			return nil, err
		}
		return args[0] + "!", nil
	})

	h := startBridge(t, rt)
	res, err := h.host.Call(testCtx(t), "echo", []string{"hi"})
	require.NoError(t, err)

	var out string
	require.NoError(t, res.Decode(&out))
	assert.Equal(t, "hi!", out)
}

func TestRuntimeManifestListsRegisteredMethods(t *testing.T) {
	rt := NewRuntime(NewManifest("test-bridge", "1.0.0", "test").WithEvents("onPageChanged"))
	rt.Register("b", func(context.Context, *Call) (interface{}, error) { return nil, nil })
	rt.Register("a", func(context.Context, *Call) (interface{}, error) { return nil, nil })

	h := startBridge(t, rt)
	manifest, err := ParseManifest(h.host.Manifest())
	require.NoError(t, err)

	assert.Equal(t, "test-bridge", manifest.Name)
	assert.Equal(t, []string{"a", "b"}, manifest.Methods)
	assert.Equal(t, []string{"onPageChanged"}, manifest.Events)
	assert.True(t, manifest.HasMethod("a"))
}

func TestRuntimeNilResultIsEmptyEnd(t *testing.T) {
	rt := NewRuntime(nil)
	rt.Register("close", func(context.Context, *Call) (interface{}, error) { return nil, nil })

	h := startBridge(t, rt)
	res, err := h.host.Call(testCtx(t), "close", "id")
	require.NoError(t, err)
	assert.True(t, res.IsEmpty())
}

func TestRuntimeUnknownMethod(t *testing.T) {
	h := startBridge(t, NewRuntime(nil))

	_, err := h.host.Call(testCtx(t), "nope", nil)
	var hostErr *HostError
	require.ErrorAs(t, err, &hostErr)
	assert.Equal(t, HostErrorTypeCallError, hostErr.Type)
	assert.Equal(t, CodeNotImplemented, hostErr.Code)
}

func TestRuntimeErrorCodes(t *testing.T) {
	rt := NewRuntime(nil)
	rt.Register("coded", func(context.Context, *Call) (interface{}, error) {
		return nil, &CallError{Code: "1", Message: "format not supported", Details: "trace"}
	})
	rt.Register("wrapped", func(context.Context, *Call) (interface{}, error) {
		return nil, errors.Join(errors.New("context"), &CallError{Code: "LookupFailure", Message: "missing"})
	})
	rt.Register("plain", func(context.Context, *Call) (interface{}, error) {
		return nil, errors.New("boom")
	})

	h := startBridge(t, rt)
	ctx := testCtx(t)

	cases := []struct {
		method, code, message, details string
	}{
		{"coded", "1", "format not supported", "trace"},
		{"wrapped", "LookupFailure", "missing", ""},
		{"plain", CodeHandlerError, "boom", ""},
	}
	for _, tc := range cases {
		_, err := h.host.Call(ctx, tc.method, nil)
		var hostErr *HostError
		require.ErrorAs(t, err, &hostErr, tc.method)
		assert.Equal(t, tc.code, hostErr.Code, tc.method)
		assert.Equal(t, tc.message, hostErr.Message, tc.method)
		assert.Equal(t, tc.details, hostErr.Details, tc.method)
	}
}

func TestRuntimeRecoversHandlerPanic(t *testing.T) {
	rt := NewRuntime(nil)
	rt.Register("panic", func(context.Context, *Call) (interface{}, error) {
		panic("broken toolkit")
	})
	rt.Register("ok", func(context.Context, *Call) (interface{}, error) { return true, nil })

	h := startBridge(t, rt)
	ctx := testCtx(t)

	_, err := h.host.Call(ctx, "panic", nil)
	var hostErr *HostError
	require.ErrorAs(t, err, &hostErr)
	assert.Equal(t, CodeInternalError, hostErr.Code)

	// The bridge keeps serving after a panic
	res, err := h.host.Call(ctx, "ok", nil)
	require.NoError(t, err)
	var ok bool
	require.NoError(t, res.Decode(&ok))
	assert.True(t, ok)
}

func TestRuntimeChunksLargeResults(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 1024)
	rt := NewRuntime(nil)
	rt.Register("get", func(context.Context, *Call) (interface{}, error) { return payload, nil })

	h := startBridge(t, rt, WithHostLimits(Limits{MaxFrame: 1 << 16, MaxChunk: 1024}))
	assert.Equal(t, 1024, h.host.Limits().MaxChunk)

	res, err := h.host.Call(testCtx(t), "get", nil)
	require.NoError(t, err)
	var out []byte
	require.NoError(t, res.Decode(&out))
	assert.Equal(t, payload, out)
}

func TestRuntimeRunsCallsConcurrently(t *testing.T) {
	release := make(chan struct{})
	rt := NewRuntime(nil)
	rt.Register("slow", func(ctx context.Context, call *Call) (interface{}, error) {
		select {
		case <-release:
			return "slow", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	rt.Register("fast", func(context.Context, *Call) (interface{}, error) { return "fast", nil })

	h := startBridge(t, rt)
	ctx := testCtx(t)

	var wg sync.WaitGroup
	var slowResult string
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := h.host.Call(ctx, "slow", nil)
		if assert.NoError(t, err) {
			assert.NoError(t, res.Decode(&slowResult))
		}
	}()

	// fast completes while slow is still blocked
	res, err := h.host.Call(ctx, "fast", nil)
	require.NoError(t, err)
	var fast string
	require.NoError(t, res.Decode(&fast))
	assert.Equal(t, "fast", fast)

	close(release)
	wg.Wait()
	assert.Equal(t, "slow", slowResult)
}

func TestRuntimeEmitAndLog(t *testing.T) {
	rt := NewRuntime(nil)
	rt.Register("notify", func(ctx context.Context, call *Call) (interface{}, error) {
		call.Log("warn", "about to notify")
		return nil, rt.Emit("onPageChanged", `{"href":"c1.xhtml"}`)
	})

	h := startBridge(t, rt)
	_, err := h.host.Call(testCtx(t), "notify", nil)
	require.NoError(t, err)

	select {
	case event := <-h.events:
		assert.Equal(t, "onPageChanged", event.Method)
		var locator string
		require.NoError(t, event.Decode(&locator))
		assert.Equal(t, `{"href":"c1.xhtml"}`, locator)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	select {
	case line := <-h.logs:
		assert.Equal(t, "warn:about to notify", line)
	case <-time.After(time.Second):
		t.Fatal("log not delivered")
	}
}

func TestRuntimeEmitFailsWhenNotRunning(t *testing.T) {
	rt := NewRuntime(nil)
	assert.Error(t, rt.Emit("onPageChanged", "x"))
}

func TestRuntimeHeartbeat(t *testing.T) {
	h := startBridge(t, NewRuntime(nil))
	require.NoError(t, h.host.Heartbeat(testCtx(t)))
}

func TestRuntimeStopsOnHostClose(t *testing.T) {
	hostRead, bridgeWrite := io.Pipe()
	bridgeRead, hostWrite := io.Pipe()

	runErr := make(chan error, 1)
	go func() {
		err := NewRuntime(nil).Run(context.Background(), bridgeRead, bridgeWrite)
		bridgeWrite.Close()
		runErr <- err
	}()

	host, err := Connect(hostRead, hostWrite)
	require.NoError(t, err)
	require.NoError(t, host.Close())

	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return on EOF")
	}

	_, err = host.Call(context.Background(), "x", nil)
	var hostErr *HostError
	require.ErrorAs(t, err, &hostErr)
	assert.Equal(t, HostErrorTypeClosed, hostErr.Type)
}

func TestRuntimeCancelsHandlersOnShutdown(t *testing.T) {
	hostRead, bridgeWrite := io.Pipe()
	bridgeRead, hostWrite := io.Pipe()

	started := make(chan struct{})
	cancelled := make(chan struct{})
	rt := NewRuntime(nil)
	rt.Register("block", func(ctx context.Context, call *Call) (interface{}, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- rt.Run(ctx, bridgeRead, bridgeWrite)
	}()

	host, err := Connect(hostRead, hostWrite)
	require.NoError(t, err)
	go host.Call(context.Background(), "block", nil)

	<-started
	cancel()

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("handler context not cancelled")
	}
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	host.Close()
	bridgeWrite.Close()
}
