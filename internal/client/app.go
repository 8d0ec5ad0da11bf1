// Package client is the host loop of the arena client: it polls the
// transport every tick and moves between the connection phase and the
// in-room phase.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/connection"
	"github.com/cory-johannsen/arena/internal/observability"
	"github.com/cory-johannsen/arena/internal/presentation"
	"github.com/cory-johannsen/arena/internal/roomsync"
	"github.com/cory-johannsen/arena/internal/session"
	"github.com/cory-johannsen/arena/internal/transport"
)

// ErrRetryDeclined is returned by Run when the operator declines a retry.
var ErrRetryDeclined = errors.New("retry declined")

// Transport is the session transport driven by the host loop.
type Transport interface {
	connection.Transport
	Poll() int
}

// RetryPrompter is the operator's retry affordance.
type RetryPrompter interface {
	// PromptRetry shows reason and returns the host to retry with. An empty
	// host keeps the current one; ok false declines the retry.
	PromptRetry(ctx context.Context, reason, host string) (newHost string, ok bool, err error)
}

// Options configures an App.
type Options struct {
	Logger   *zap.Logger
	Trace    *observability.Trace
	Prompter RetryPrompter
	// Seed drives the wandering local player.
	Seed uint64
}

type pending int

const (
	pendingNone pending = iota
	pendingLost
	pendingPrecondition
)

// App wires the transport, the session registry, the connection machine,
// the room sync engine and the headless scene.
type App struct {
	cfg      config.ClientConfig
	t        Transport
	logger   *zap.Logger
	trace    *observability.Trace
	prompter RetryPrompter

	registry *session.Registry
	machine  *connection.Machine
	engine   *roomsync.Engine
	scene    *presentation.Scene
	local    *LocalPlayer

	pending pending
}

// New creates an App. Nothing is sent until Start or Run.
//
// Precondition: t must be non-nil; cfg must be valid.
func New(t Transport, cfg config.ClientConfig, opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	trace := opts.Trace
	if trace == nil {
		trace = observability.NewTrace(0, observability.Component(logger, "trace"))
	}
	room := cfg.Room
	if room == "" {
		room = connection.DefaultRoom
	}

	a := &App{
		cfg:      cfg,
		t:        t,
		logger:   logger,
		trace:    trace,
		prompter: opts.Prompter,
		registry: session.NewRegistry(),
		scene:    presentation.NewScene(observability.Component(logger, "scene")),
		local:    NewLocalPlayer(connection.DefaultRoomSpec(room).Bounds, cfg.Wander, opts.Seed),
	}

	settings := connection.Settings{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		Zone:     cfg.Zone,
		Room:     room,
	}
	if cfg.UseConfigFile {
		settings.ConfigFile = cfg.ConfigFile
	}
	a.machine = connection.NewMachine(t, a.registry, settings, connection.Hooks{
		OnFailure:    a.onFailure,
		OnRoomJoined: a.onRoomJoined,
	}, observability.Component(logger, "connection"))

	a.engine = roomsync.NewEngine(roomsync.Options{
		Registry:         a.registry,
		Presenter:        a.scene,
		Local:            a.local,
		Logger:           observability.Component(logger, "roomsync"),
		Trace:            trace,
		OnConnectionLost: a.onConnectionLost,
	})
	return a
}

// Machine returns the connection state machine.
func (a *App) Machine() *connection.Machine { return a.machine }

// Engine returns the room sync engine.
func (a *App) Engine() *roomsync.Engine { return a.engine }

// Registry returns the session registry.
func (a *App) Registry() *session.Registry { return a.registry }

// Scene returns the headless scene.
func (a *App) Scene() *presentation.Scene { return a.scene }

// Local returns the local player.
func (a *App) Local() *LocalPlayer { return a.local }

// Trace returns the operator trace.
func (a *App) Trace() *observability.Trace { return a.trace }

// Start begins the connection sequence.
func (a *App) Start() error {
	a.trace.Line("connecting")
	return a.machine.Start()
}

// Tick is one host loop iteration: dispatch queued transport events, restart
// the connection phase when the in-room phase handed control back, then move
// and publish the local player while in the room.
func (a *App) Tick(dt time.Duration) error {
	a.t.Poll()

	switch a.pending {
	case pendingLost:
		a.pending = pendingNone
		a.trace.Line("reconnecting")
		if err := a.machine.Start(); err != nil {
			return err
		}
	case pendingPrecondition:
		a.pending = pendingNone
		if err := a.machine.Start(); err != nil {
			return err
		}
	}

	if a.engine.Active() {
		a.local.Step(dt)
		if err := a.engine.PublishLocal(a.local.State()); err != nil {
			a.logger.Warn("publishing local state", zap.Error(err))
		}
	}
	return nil
}

// Run ticks at the configured rate until ctx ends or the operator declines a
// retry. Every failure, including a connection lost in the room without
// ReconnectOnLost, goes to the retry prompt.
//
// Postcondition: the transport is disconnected when Run returns.
func (a *App) Run(ctx context.Context) error {
	defer a.Stop()
	if err := a.Start(); err != nil {
		return err
	}

	ticker := time.NewTicker(a.cfg.TickInterval())
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := a.Tick(now.Sub(last)); err != nil {
				return err
			}
			last = now
			if a.machine.State() == connection.Failed {
				if err := a.retry(ctx); err != nil {
					return err
				}
				last = time.Now()
			}
		}
	}
}

func (a *App) retry(ctx context.Context) error {
	f := a.machine.Failure()
	if a.prompter == nil {
		return f
	}
	host, ok, err := a.prompter.PromptRetry(ctx, f.Message, a.machine.Settings().Host)
	if err != nil {
		return fmt.Errorf("prompting for retry: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %w", ErrRetryDeclined, f)
	}
	a.trace.Line("retrying", zap.String("host", host))
	return a.machine.Retry(host)
}

// Stop leaves the room phase and closes the connection.
func (a *App) Stop() {
	a.engine.Deactivate()
	a.t.RemoveAllListeners()
	a.registry.Clear()
	a.t.Disconnect()
}

func (a *App) onFailure(f *connection.Failure) {
	a.trace.Line(f.Message, zap.Int("code", f.Code))
}

func (a *App) onRoomJoined(s *session.Session, users []transport.User) {
	a.trace.Line(fmt.Sprintf("joined room as %s", s.Self.Name))
	if err := a.engine.Activate(users...); err != nil {
		a.trace.Line("room sync could not start", zap.Error(err))
		a.registry.Clear()
		a.t.Disconnect()
		a.machine.Reset()
		a.pending = pendingPrecondition
	}
}

// onConnectionLost runs after the room phase has torn down. The machine is
// either restarted on the next tick or failed so the operator can retry.
func (a *App) onConnectionLost(reason string) {
	if a.cfg.ReconnectOnLost {
		a.machine.Reset()
		a.pending = pendingLost
		return
	}
	a.machine.Lost(reason)
}
