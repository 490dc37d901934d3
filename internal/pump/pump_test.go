package pump

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeDevice struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu     sync.Mutex
	closed bool
	down   bool
	delete bool
}

func newFakeDevice(r *io.PipeReader, w *io.PipeWriter) *fakeDevice {
	return &fakeDevice{r: r, w: w}
}

func (d *fakeDevice) Read(p []byte) (int, error)  { return d.r.Read(p) }
func (d *fakeDevice) Write(p []byte) (int, error) { return d.w.Write(p) }

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	_ = d.r.Close()
	return d.w.Close()
}

func (d *fakeDevice) Down() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.down = true
	return nil
}

func (d *fakeDevice) Delete() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delete = true
	return nil
}

func (d *fakeDevice) snapshot() (down, del bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.down, d.delete
}

type fakeEndpoint struct {
	writes   chan []byte
	reads    chan []byte
	writeErr error
	closed   chan struct{}
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{
		writes: make(chan []byte, 4),
		reads:  make(chan []byte, 4),
		closed: make(chan struct{}),
	}
}

func (e *fakeEndpoint) Write(ctx context.Context, data []byte) error {
	if e.writeErr != nil {
		return e.writeErr
	}
	select {
	case e.writes <- append([]byte(nil), data...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *fakeEndpoint) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-e.reads:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *fakeEndpoint) Close() error {
	select {
	case <-e.closed:
	default:
		close(e.closed)
	}
	return nil
}

func TestPumpForwardsBothDirections(t *testing.T) {
	upR, upW := io.Pipe()
	downR, downW := io.Pipe()
	device := newFakeDevice(upR, downW)
	endpoint := newFakeEndpoint()

	p := New(device, endpoint, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(ctx) }()

	go func() { _, _ = upW.Write([]byte("outbound-packet")) }()

	select {
	case got := <-endpoint.writes:
		if string(got) != "outbound-packet" {
			t.Fatalf("uplink: got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for uplink write")
	}

	endpoint.reads <- []byte("inbound-packet")
	got := make([]byte, 32)
	n, err := downR.Read(got)
	if err != nil {
		t.Fatalf("downR.Read: %v", err)
	}
	if string(got[:n]) != "inbound-packet" {
		t.Fatalf("downlink: got %q", got[:n])
	}

	cancel()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run returned error after cancellation: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}

	down, del := device.snapshot()
	if !down || !del {
		t.Fatalf("expected tunnel teardown, got down=%v delete=%v", down, del)
	}
}

// TestPumpEchoRoundTripWithinOneSecond drives a 1400-byte datagram
// through the pump and back, standing in for an echo peer behind the
// listener: the packet must return byte-identical within one second.
func TestPumpEchoRoundTripWithinOneSecond(t *testing.T) {
	upR, upW := io.Pipe()
	downR, downW := io.Pipe()
	device := newFakeDevice(upR, downW)
	endpoint := newFakeEndpoint()

	p := New(device, endpoint, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	payload := make([]byte, 1400)
	for i := range payload {
		payload[i] = byte(i)
	}

	start := time.Now()
	go func() { _, _ = upW.Write(payload) }()

	select {
	case got := <-endpoint.writes:
		endpoint.reads <- got // the "echo peer": bounce it straight back
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for uplink write")
	}

	got := make([]byte, 2048)
	n, err := downR.Read(got)
	if err != nil {
		t.Fatalf("downR.Read: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("echo round trip took %s, want <= 1s", elapsed)
	}
	if string(got[:n]) != string(payload) {
		t.Fatal("echoed payload was not byte-identical")
	}
}

func TestPumpTearsDownOnTransportError(t *testing.T) {
	upR, upW := io.Pipe()
	downR, downW := io.Pipe()
	_ = downR
	device := newFakeDevice(upR, downW)
	endpoint := newFakeEndpoint()
	endpoint.writeErr = errors.New("simulated transport failure")

	p := New(device, endpoint, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(ctx) }()

	go func() { _, _ = upW.Write([]byte("x")) }()

	select {
	case err := <-runDone:
		if err == nil {
			t.Fatal("expected Run to report the transport failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}

	down, del := device.snapshot()
	if !down || !del {
		t.Fatalf("expected tunnel teardown even on error, got down=%v delete=%v", down, del)
	}
}
