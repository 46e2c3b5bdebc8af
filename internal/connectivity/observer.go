package connectivity

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/subreax/reaction/internal/events"
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
)

func (s Status) String() string {
	if s == StatusConnected {
		return "connected"
	}
	return "disconnected"
}

// Observer reports coarse network reachability. The status stream is
// deduplicated: no two consecutive identical values are published.
// This is a best-effort signal and never fails; a missed probe only
// delays state-machine progress.
type Observer interface {
	Status() *events.Stream[Status]
	IsAvailable() bool
}

const probeTimeout = 3 * time.Second

// ProbeObserver derives reachability by periodically dialing a probe
// address (normally the backend host).
type ProbeObserver struct {
	log      *slog.Logger
	addr     string
	interval time.Duration

	stream    *events.Stream[Status]
	available atomic.Bool
}

func NewProbeObserver(log *slog.Logger, addr string, interval time.Duration) *ProbeObserver {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ProbeObserver{
		log:      log,
		addr:     addr,
		interval: interval,
		stream:   events.NewStream[Status](),
	}
}

func (o *ProbeObserver) Status() *events.Stream[Status] {
	return o.stream
}

func (o *ProbeObserver) IsAvailable() bool {
	return o.available.Load()
}

// Run probes until ctx is done. The first probe always publishes so that
// subscribers learn the initial status.
func (o *ProbeObserver) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	last := Status(-1)
	for {
		status := o.probe()
		o.available.Store(status == StatusConnected)
		if status != last {
			last = status
			o.log.Debug("connectivity - status changed", "status", status.String())
			o.stream.Publish(status)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (o *ProbeObserver) probe() Status {
	conn, err := net.DialTimeout("tcp", o.addr, probeTimeout)
	if err != nil {
		return StatusDisconnected
	}
	conn.Close()
	return StatusConnected
}
