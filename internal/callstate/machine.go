package callstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State names one node of the participant lifecycle.
type State string

const (
	StateIdle           State = "idle"
	StateInitializing   State = "initializing"
	StateCaptureError   State = "capture_error"
	StateWaitingForPeer State = "waiting_for_peer"
	StateNegotiating    State = "negotiating"
	StateConnected      State = "connected"
	StateRecording      State = "recording"
	StateEnded          State = "ended"
)

// TransportState mirrors the underlying peer connection's reported state.
type TransportState string

const (
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

var ErrCaptureUnavailable = errors.New("local capture unavailable")

// Capturer acquires the local audio/video devices.
type Capturer interface {
	Acquire(ctx context.Context) error
	Release()
}

// Signaler joins the signaling room and reports whether this participant was
// elected caller.
type Signaler interface {
	Join(ctx context.Context, roomID string) (isCaller bool, err error)
}

// Negotiator runs the offer/answer exchange. The initiator creates the offer.
type Negotiator interface {
	Negotiate(ctx context.Context, initiator bool) error
}

// Compositor renders remote-full-frame plus local picture-in-picture and
// mixes both audio tracks. Start must build a fresh audio mixing graph each
// time; reusing a destination across recording restarts leaks stale tracks.
type Compositor interface {
	Start() error
	Stop()
}

// Recorder slices the composited output into fixed-duration chunks and hands
// each finished slice to onSlice. Stop flushes the pending partial slice
// before returning.
type Recorder interface {
	Start(sliceEvery time.Duration, onSlice func(data []byte)) error
	Stop()
}

// Finalizer asks the server to merge everything that was uploaded.
type Finalizer interface {
	Finalize(ctx context.Context, totalParts int) error
}

type canceler interface {
	Stop() bool
}

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }

// Deps are the collaborator ports a Machine drives.
type Deps struct {
	Capture    Capturer
	Signaler   Signaler
	Negotiator Negotiator
	Compositor Compositor
	Recorder   Recorder
	Uploader   *Uploader
	Finalizer  Finalizer
	Creds      *CredentialProvider
	Log        *slog.Logger
}

// Machine is one participant's call lifecycle. All callbacks (transport
// state changes, recorder slices, grace timers) funnel through its mutex, so
// collaborators may fire from any goroutine.
type Machine struct {
	deps Deps

	sliceEvery        time.Duration
	graceDisconnected time.Duration
	graceFailed       time.Duration
	afterFunc         func(d time.Duration, fn func()) canceler

	mu      sync.Mutex
	state   State
	runCtx  context.Context
	grace   canceler
	viewer  bool
	started bool // connected side effects ran
	ended   bool

	finalizeOnce sync.Once
}

type Option func(*Machine)

func WithGrace(disconnected, failed time.Duration) Option {
	return func(m *Machine) {
		m.graceDisconnected = disconnected
		m.graceFailed = failed
	}
}

func WithSliceInterval(d time.Duration) Option {
	return func(m *Machine) { m.sliceEvery = d }
}

// WithTimerFactory substitutes the grace timer source, for tests.
func WithTimerFactory(f func(d time.Duration, fn func()) canceler) Option {
	return func(m *Machine) { m.afterFunc = f }
}

func NewMachine(deps Deps, opts ...Option) *Machine {
	m := &Machine{
		deps:              deps,
		state:             StateIdle,
		sliceEvery:        5 * time.Second,
		graceDisconnected: 15 * time.Second,
		graceFailed:       8 * time.Second,
		afterFunc: func(d time.Duration, fn func()) canceler {
			return realTimer{t: time.AfterFunc(d, fn)}
		},
	}
	for _, o := range opts {
		o(m)
	}
	deps.Creds.OnChange(func(string) { m.promote() })
	return m
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start runs the setup sequence: acquire devices, join the room, negotiate.
// A capture failure is terminal; it is never retried automatically.
func (m *Machine) Start(ctx context.Context, roomID string) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return fmt.Errorf("start from state %s", m.state)
	}
	m.state = StateInitializing
	m.runCtx = ctx
	m.mu.Unlock()

	if err := m.deps.Capture.Acquire(ctx); err != nil {
		m.setState(StateCaptureError)
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	m.setState(StateWaitingForPeer)
	isCaller, err := m.deps.Signaler.Join(ctx, roomID)
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	m.setState(StateNegotiating)
	if err := m.deps.Negotiator.Negotiate(ctx, isCaller); err != nil {
		return fmt.Errorf("negotiate: %w", err)
	}
	return nil
}

// HandleTransport reacts to a peer connection state report.
//
// A transient disconnect arms a grace timer instead of ending the call; the
// call survives if the transport reports connected again before it fires. A
// failed report uses a shorter window. Closed ends the call immediately.
func (m *Machine) HandleTransport(ts TransportState) {
	switch ts {
	case TransportConnected:
		m.onConnected()
	case TransportDisconnected:
		m.armGrace(m.graceDisconnected)
	case TransportFailed:
		m.armGrace(m.graceFailed)
	case TransportClosed:
		m.End()
	}
}

func (m *Machine) onConnected() {
	m.mu.Lock()
	if m.ended {
		m.mu.Unlock()
		return
	}
	m.cancelGraceLocked()
	if m.started {
		// Recovery within the grace window; recording was never stopped.
		m.mu.Unlock()
		m.deps.Log.Info("transport recovered within grace window")
		return
	}
	m.started = true
	m.state = StateConnected
	m.mu.Unlock()

	if err := m.deps.Compositor.Start(); err != nil {
		m.deps.Log.Error("compositor start failed", slog.Any("error", err))
	}

	if m.deps.Creds.Get() == "" {
		m.mu.Lock()
		m.viewer = true
		m.mu.Unlock()
		m.deps.Log.Info("no recording credential present, running as viewer")
		return
	}
	m.startRecording()
}

// promote upgrades a viewer into a recording participant when a credential
// arrives after the transport already connected.
func (m *Machine) promote() {
	m.mu.Lock()
	eligible := m.viewer && m.started && !m.ended && m.deps.Creds.Get() != ""
	if eligible {
		m.viewer = false
	}
	m.mu.Unlock()
	if eligible {
		m.deps.Log.Info("credential arrived, promoting viewer to recorder")
		m.startRecording()
	}
}

func (m *Machine) startRecording() {
	ctx := m.runContext()
	err := m.deps.Recorder.Start(m.sliceEvery, func(data []byte) {
		m.deps.Uploader.Enqueue(ctx, data)
	})
	if err != nil {
		m.deps.Log.Error("recorder start failed", slog.Any("error", err))
		return
	}
	m.setState(StateRecording)
}

func (m *Machine) armGrace(d time.Duration) {
	m.mu.Lock()
	if m.ended {
		m.mu.Unlock()
		return
	}
	m.cancelGraceLocked()
	if d <= 0 {
		m.mu.Unlock()
		m.End()
		return
	}
	m.grace = m.afterFunc(d, m.End)
	m.mu.Unlock()
	m.deps.Log.Info("transport degraded, grace timer armed", slog.Duration("window", d))
}

func (m *Machine) cancelGraceLocked() {
	if m.grace != nil {
		m.grace.Stop()
		m.grace = nil
	}
}

// End tears the call down: stop the recorder so the last partial slice
// flushes, stop compositing, release devices, wait for in-flight uploads, and
// finalize exactly once. Safe to call repeatedly and from any goroutine.
func (m *Machine) End() {
	m.mu.Lock()
	if m.ended {
		m.mu.Unlock()
		return
	}
	m.ended = true
	m.cancelGraceLocked()
	wasRecording := m.state == StateRecording
	m.state = StateEnded
	m.mu.Unlock()

	if wasRecording {
		m.deps.Recorder.Stop()
	}
	m.deps.Compositor.Stop()
	m.deps.Capture.Release()

	if !wasRecording {
		return
	}
	m.finalizeOnce.Do(func() {
		m.deps.Uploader.Drain()
		ctx := m.runContext()
		if err := m.deps.Finalizer.Finalize(ctx, m.deps.Uploader.NextSeq()); err != nil {
			m.deps.Log.Error("finalize failed", slog.Any("error", err))
		}
	})
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Machine) runContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runCtx != nil {
		return m.runCtx
	}
	return context.Background()
}
