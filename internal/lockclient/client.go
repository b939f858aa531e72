// Package lockclient holds one session's view of its canvas lock: it
// acquires on start, refreshes on a schedule, releases on close, and reports
// every state change to registered observers.
package lockclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/locks"
	"go.uber.org/zap"
)

// State is a lock client state.
type State string

const (
	StateUnlocked   State = "unlocked"
	StateAcquiring  State = "acquiring"
	StateHeld       State = "held"
	StateRefreshing State = "refreshing"
	StateReleasing  State = "releasing"
	StateViewing    State = "viewing"
	StateConflict   State = "conflict"
)

// Holding reports whether the session owns the lock in this state.
func (s State) Holding() bool {
	return s == StateHeld || s == StateRefreshing
}

var (
	errMissingAPI       = errors.New("lock api is required")
	errMissingCanvasID  = errors.New("canvas id is required")
	errMissingSessionID = errors.New("session id is required")
)

// API is the lock endpoint surface used by the client.
type API interface {
	Acquire(ctx context.Context, canvasID string) (locks.Lock, error)
	Refresh(ctx context.Context, canvasID string) (locks.Lock, error)
	Release(ctx context.Context, canvasID string) error
	Status(ctx context.Context, canvasID string) (locks.Lock, bool, error)
}

// Snapshot is the observable client state.
type Snapshot struct {
	State State
	// Lock is the session's own lock while holding.
	Lock locks.Lock
	// Holder is the foreign lock seen while viewing or after a conflict.
	Holder *locks.Lock
	// LastError is the most recent refresh failure that was tolerated.
	LastError error
}

// Transition is delivered to observers after every state change.
type Transition struct {
	From     State
	To       State
	At       time.Time
	Snapshot Snapshot
}

// Config describes a Client.
type Config struct {
	CanvasID        string
	SessionID       string
	API             API
	TTL             time.Duration
	RefreshInterval time.Duration
	Clock           func() time.Time
	Logger          *zap.Logger
}

// Client is the session-side lock state machine.
type Client struct {
	canvasID  string
	sessionID string
	api       API
	clock     func() time.Time
	logger    *zap.Logger
	task      *RefreshTask

	mu        sync.Mutex
	snapshot  Snapshot
	observers []func(Transition)
}

// New validates the configuration. The refresh cadence defaults to half the
// lock TTL.
func New(cfg Config) (*Client, error) {
	if cfg.API == nil {
		return nil, errMissingAPI
	}
	if strings.TrimSpace(cfg.CanvasID) == "" {
		return nil, errMissingCanvasID
	}
	if strings.TrimSpace(cfg.SessionID) == "" {
		return nil, errMissingSessionID
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = locks.DefaultTTL
	}
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = ttl / 2
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &Client{
		canvasID:  cfg.CanvasID,
		sessionID: cfg.SessionID,
		api:       cfg.API,
		clock:     clock,
		logger:    logger.With(zap.String("canvas_id", cfg.CanvasID)),
		snapshot:  Snapshot{State: StateUnlocked},
	}
	client.task = NewRefreshTask(interval, func(ctx context.Context) {
		client.RefreshNow(ctx)
	})
	return client, nil
}

// CanvasID returns the canvas this client locks.
func (c *Client) CanvasID() string {
	return c.canvasID
}

// SessionID returns the session this client acts for.
func (c *Client) SessionID() string {
	return c.sessionID
}

// RefreshTask exposes the scheduled refresh for inspection.
func (c *Client) RefreshTask() *RefreshTask {
	return c.task
}

// OnTransition registers an observer. Observers run synchronously, in
// registration order, outside the client's lock.
func (c *Client) OnTransition(observer func(Transition)) {
	if observer == nil {
		return
	}
	c.mu.Lock()
	c.observers = append(c.observers, observer)
	c.mu.Unlock()
}

// Current returns the present snapshot.
func (c *Client) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// TimeRemaining returns the time until the held lock expires by the local
// clock. It is zero when the lock is not held.
func (c *Client) TimeRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.snapshot.State.Holding() {
		return 0
	}
	remaining := c.snapshot.Lock.ExpiresAt.Sub(c.clock())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ExpiredLocally reports whether the local clock has passed the held lock's
// expiry. The UI uses it to offer a status check.
func (c *Client) ExpiredLocally() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.State.Holding() && !c.snapshot.Lock.ExpiresAt.After(c.clock())
}

// Start requests the lock. A conflict is not an error: the client enters
// the viewing state with the holder recorded. Start is also the retry path
// from viewing or conflict.
func (c *Client) Start(ctx context.Context) (Snapshot, error) {
	current := c.Current().State
	switch current {
	case StateUnlocked, StateViewing, StateConflict:
	default:
		return c.Current(), fmt.Errorf("lockclient: cannot start from %s", current)
	}
	c.transition(StateAcquiring, func(snapshot *Snapshot) {})
	lock, err := c.api.Acquire(ctx, c.canvasID)
	if err != nil {
		var conflict *locks.ConflictError
		if errors.As(err, &conflict) {
			holder := conflict.Holder
			return c.transition(StateViewing, func(snapshot *Snapshot) {
				snapshot.Lock = locks.Lock{}
				snapshot.Holder = &holder
			}), nil
		}
		c.transition(StateUnlocked, func(snapshot *Snapshot) {
			snapshot.Lock = locks.Lock{}
			snapshot.LastError = err
		})
		return c.Current(), err
	}
	snapshot := c.becomeHeld(lock)
	c.task.Start(context.WithoutCancel(ctx))
	return snapshot, nil
}

// RefreshNow runs one refresh cycle. It is a no-op unless the lock is held.
func (c *Client) RefreshNow(ctx context.Context) Snapshot {
	if c.Current().State != StateHeld {
		return c.Current()
	}
	c.transition(StateRefreshing, func(snapshot *Snapshot) {})
	lock, err := c.api.Refresh(ctx, c.canvasID)
	if err == nil {
		return c.becomeHeld(lock)
	}

	var conflict *locks.ConflictError
	switch {
	case errors.As(err, &conflict):
		return c.lose(&conflict.Holder)
	case errors.Is(err, locks.ErrLockNotFound):
		c.logger.Info("canvas lock vanished, re-acquiring")
		return c.reacquire(ctx)
	default:
		return c.tolerate(err)
	}
}

// CheckStatus asks the server for the lock and reconciles the local state.
func (c *Client) CheckStatus(ctx context.Context) (Snapshot, error) {
	lock, live, err := c.api.Status(ctx, c.canvasID)
	if err != nil {
		return c.Current(), err
	}
	current := c.Current().State
	switch {
	case live && lock.HeldBy(c.sessionID):
		if current.Holding() || current == StateConflict || current == StateViewing {
			snapshot := c.becomeHeld(lock)
			c.task.Start(context.WithoutCancel(ctx))
			return snapshot, nil
		}
	case live:
		holder := lock
		if current.Holding() {
			return c.lose(&holder), nil
		}
		if current == StateViewing || current == StateConflict {
			return c.transition(current, func(snapshot *Snapshot) {
				snapshot.Holder = &holder
			}), nil
		}
	default:
		if current == StateHeld {
			c.transition(StateRefreshing, func(snapshot *Snapshot) {})
			return c.reacquire(ctx), nil
		}
		if current == StateViewing || current == StateConflict {
			return c.transition(current, func(snapshot *Snapshot) {
				snapshot.Holder = nil
			}), nil
		}
	}
	return c.Current(), nil
}

// MarkLost moves a held lock to the conflict state. SaveCoordinator calls it
// when a save-time check shows the lock is gone.
func (c *Client) MarkLost(holder *locks.Lock) Snapshot {
	if !c.Current().State.Holding() {
		return c.Current()
	}
	return c.lose(holder)
}

// Close stops refreshing and releases a held lock. Release failures are
// logged and returned; the lock then expires on its own.
func (c *Client) Close(ctx context.Context) error {
	c.task.Stop()
	current := c.Current().State
	if !current.Holding() {
		if current != StateUnlocked {
			c.transition(StateUnlocked, func(snapshot *Snapshot) {
				snapshot.Holder = nil
			})
		}
		return nil
	}
	c.transition(StateReleasing, func(snapshot *Snapshot) {})
	err := c.api.Release(ctx, c.canvasID)
	if err != nil {
		c.logger.Warn("canvas lock release failed", zap.Error(err))
	}
	c.transition(StateUnlocked, func(snapshot *Snapshot) {
		snapshot.Lock = locks.Lock{}
		snapshot.Holder = nil
	})
	return err
}

func (c *Client) reacquire(ctx context.Context) Snapshot {
	lock, err := c.api.Acquire(ctx, c.canvasID)
	if err == nil {
		snapshot := c.becomeHeld(lock)
		c.task.Start(context.WithoutCancel(ctx))
		return snapshot
	}
	var conflict *locks.ConflictError
	if errors.As(err, &conflict) {
		c.task.Cancel()
		holder := conflict.Holder
		return c.transition(StateViewing, func(snapshot *Snapshot) {
			snapshot.Lock = locks.Lock{}
			snapshot.Holder = &holder
		})
	}
	return c.tolerate(err)
}

// tolerate keeps the lock through a transient failure until the locally
// observed expiry passes.
func (c *Client) tolerate(err error) Snapshot {
	c.mu.Lock()
	expired := !c.snapshot.Lock.ExpiresAt.After(c.clock())
	c.mu.Unlock()
	if expired {
		c.logger.Warn("canvas lock expired during refresh failures", zap.Error(err))
		c.task.Cancel()
		return c.transition(StateConflict, func(snapshot *Snapshot) {
			snapshot.LastError = err
			snapshot.Holder = nil
		})
	}
	c.logger.Warn("canvas lock refresh failed, retrying next cycle", zap.Error(err))
	return c.transition(StateHeld, func(snapshot *Snapshot) {
		snapshot.LastError = err
	})
}

func (c *Client) becomeHeld(lock locks.Lock) Snapshot {
	return c.transition(StateHeld, func(snapshot *Snapshot) {
		snapshot.Lock = lock
		snapshot.Holder = nil
		snapshot.LastError = nil
	})
}

func (c *Client) lose(holder *locks.Lock) Snapshot {
	c.task.Cancel()
	return c.transition(StateConflict, func(snapshot *Snapshot) {
		snapshot.Lock = locks.Lock{}
		snapshot.Holder = holder
	})
}

func (c *Client) transition(to State, mutate func(*Snapshot)) Snapshot {
	c.mu.Lock()
	from := c.snapshot.State
	c.snapshot.State = to
	mutate(&c.snapshot)
	snapshot := c.snapshot
	observers := append([]func(Transition){}, c.observers...)
	at := c.clock()
	c.mu.Unlock()

	if from != to {
		c.logger.Debug("canvas lock transition", zap.String("from", string(from)), zap.String("to", string(to)))
	}
	event := Transition{From: from, To: to, At: at, Snapshot: snapshot}
	for _, observer := range observers {
		observer(event)
	}
	return snapshot
}
