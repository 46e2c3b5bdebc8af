package appstate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/subreax/reaction/internal/connectivity"
	"github.com/subreax/reaction/internal/events"
)

// State is the coarse connectivity/sync phase of the whole client.
type State int

const (
	WaitingForNetwork State = iota
	Connecting
	Syncing
	Ready
)

func (s State) String() string {
	switch s {
	case WaitingForNetwork:
		return "waiting_for_network"
	case Connecting:
		return "connecting"
	case Syncing:
		return "syncing"
	case Ready:
		return "ready"
	}
	return "unknown"
}

// Action is a caller-registered step run during the Connecting or Syncing
// phase. Actions must be idempotent and report failure by returning false,
// never by panicking.
type Action func(ctx context.Context) bool

type actionEntry struct {
	id int
	fn Action
}

// Source drives the WaitingForNetwork -> Connecting -> Syncing -> Ready
// lifecycle. All transition work runs on a single background goroutine;
// requests arriving while an earlier phase is still executing conflate,
// keeping only the newest one.
type Source struct {
	log        *slog.Logger
	obs        connectivity.Observer
	retryDelay time.Duration

	mu         sync.Mutex
	state      State
	connecting []actionEntry
	syncing    []actionEntry
	nextID     int

	changes  *events.Stream[State]
	requests chan State

	startOnce sync.Once
}

func New(log *slog.Logger, obs connectivity.Observer, retryDelay time.Duration) *Source {
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	return &Source{
		log:        log,
		obs:        obs,
		retryDelay: retryDelay,
		state:      WaitingForNetwork,
		changes:    events.NewStream[State](),
		requests:   make(chan State, 1),
	}
}

func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Source) Changes() *events.Stream[State] {
	return s.changes
}

// AddConnectingAction registers an action for the Connecting phase and
// returns a func that unregisters it.
func (s *Source) AddConnectingAction(a Action) func() {
	return s.add(&s.connecting, a)
}

// AddSyncingAction registers an action for the Syncing phase and returns
// a func that unregisters it.
func (s *Source) AddSyncingAction(a Action) func() {
	return s.add(&s.syncing, a)
}

func (s *Source) add(list *[]actionEntry, a Action) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	*list = append(*list, actionEntry{id: id, fn: a})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range *list {
			if e.id == id {
				*list = append((*list)[:i], (*list)[i+1:]...)
				return
			}
		}
	}
}

// Start launches the transition loop and the network watcher. Calling it
// again is a no-op.
func (s *Source) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.loop(ctx)
		go s.watchNetwork(ctx)
	})
}

// Restart re-evaluates reachability right now instead of waiting for the
// next observer event. Dependents call this when their connection drops.
func (s *Source) Restart() {
	if s.obs.IsAvailable() {
		s.request(Connecting)
	} else {
		s.request(WaitingForNetwork)
	}
}

// request conflates: the newest externally requested state replaces any
// still-queued one.
func (s *Source) request(st State) {
	for {
		select {
		case s.requests <- st:
			return
		default:
			select {
			case <-s.requests:
			default:
			}
		}
	}
}

// advance queues an automatic follow-up transition unless a newer external
// request is already pending; external events win over in-flight progress.
func (s *Source) advance(st State) {
	select {
	case s.requests <- st:
	default:
	}
}

func (s *Source) watchNetwork(ctx context.Context) {
	ch, cancel := s.obs.Status().Subscribe()
	defer cancel()

	for {
		select {
		case status := <-ch:
			if status == connectivity.StatusConnected {
				s.request(Connecting)
			} else {
				s.request(WaitingForNetwork)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Source) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-s.requests:
			s.setState(st)
			switch st {
			case Connecting:
				if s.runActions(ctx, s.snapshot(&s.connecting)) {
					s.advance(Syncing)
				} else {
					s.backoff(ctx)
				}
			case Syncing:
				if s.runActions(ctx, s.snapshot(&s.syncing)) {
					s.advance(Ready)
				} else {
					s.backoff(ctx)
				}
			}
		}
	}
}

func (s *Source) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.log.Info("app state - changed", "state", st.String())
	s.changes.Publish(st)
}

func (s *Source) snapshot(list *[]actionEntry) []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	actions := make([]Action, len(*list))
	for i, e := range *list {
		actions[i] = e.fn
	}
	return actions
}

// runActions runs in registration order, short-circuiting on the first
// failure.
func (s *Source) runActions(ctx context.Context, actions []Action) bool {
	for _, a := range actions {
		if !a(ctx) {
			return false
		}
	}
	return true
}

// backoff is the only retry policy: a fixed delay, then a transition based
// on current reachability.
func (s *Source) backoff(ctx context.Context) {
	s.log.Warn("app state - phase failed, backing off", "delay", s.retryDelay)
	select {
	case <-time.After(s.retryDelay):
	case <-ctx.Done():
		return
	}
	if s.obs.IsAvailable() {
		s.advance(Connecting)
	} else {
		s.advance(WaitingForNetwork)
	}
}
