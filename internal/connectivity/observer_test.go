package connectivity

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProbeDetectsReachableHost(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	o := NewProbeObserver(testLogger(), ln.Addr().String(), 10*time.Millisecond)
	statuses, cancel := o.Status().Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go o.Run(ctx)

	select {
	case s := <-statuses:
		if s != StatusConnected {
			t.Fatalf("status = %s", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial status published")
	}
	if !o.IsAvailable() {
		t.Fatal("IsAvailable disagrees with the stream")
	}
}

func TestProbeDetectsLoss(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	o := NewProbeObserver(testLogger(), ln.Addr().String(), 10*time.Millisecond)
	statuses, cancel := o.Status().Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go o.Run(ctx)

	if s := <-statuses; s != StatusConnected {
		t.Fatalf("initial status = %s", s)
	}

	ln.Close()

	select {
	case s := <-statuses:
		if s != StatusDisconnected {
			t.Fatalf("status = %s", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loss never detected")
	}
	if o.IsAvailable() {
		t.Fatal("still reported available")
	}
}

func TestProbeDeduplicates(t *testing.T) {
	// nothing listens here; every probe fails the same way
	o := NewProbeObserver(testLogger(), "127.0.0.1:1", 5*time.Millisecond)
	statuses, cancel := o.Status().Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go o.Run(ctx)

	if s := <-statuses; s != StatusDisconnected {
		t.Fatalf("initial status = %s", s)
	}

	select {
	case s := <-statuses:
		t.Fatalf("duplicate status published: %s", s)
	case <-time.After(100 * time.Millisecond):
	}
}
