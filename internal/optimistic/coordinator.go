// Package optimistic keeps a client-visible view of watch states that changes
// immediately on user intent and converges on the authoritative server state.
package optimistic

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/vascoliveira2511/WatchLog/internal/models"
)

// Remote is the authoritative side of a transition
type Remote interface {
	ApplyTransition(ctx context.Context, ref models.MediaRef, status models.Status, opts models.TransitionOptions) (*models.WatchState, error)
	ToggleEpisode(ctx context.Context, showID int64, ep models.EpisodeRef) (*models.WatchState, error)
	SetEpisodes(ctx context.Context, showID int64, episodes []models.EpisodeRef, watched bool) (*models.WatchState, error)
}

// Resolution is the outcome of one submitted request. Err is
// models.ErrStaleRequest when a newer request for the same key was issued
// before this one resolved.
type Resolution struct {
	Ref     models.MediaRef
	Seq     uint64
	State   *models.WatchState // authoritative state, nil on failure
	Visible *models.WatchState // visible state once the resolution is applied
	Err     error
}

// ErrorListener receives the failures of requests that were still the latest
// for their key
type ErrorListener func(ref models.MediaRef, kind string, err error)

// StateListener receives every change of a visible state
type StateListener func(ref models.MediaRef, state *models.WatchState)

type entry struct {
	visible      *models.WatchState
	confirmed    *models.WatchState
	confirmedSeq uint64
	latest       uint64
	pending      int
	// latestFailed is set when the newest request failed while older ones
	// were still in flight
	latestFailed bool
}

// Coordinator applies transitions optimistically and reconciles them with a
// Remote using per-key sequence numbers
type Coordinator struct {
	remote Remote
	logger *logrus.Logger

	mu       sync.Mutex
	entries  map[string]*entry
	onError  ErrorListener
	onChange StateListener

	inflight sync.WaitGroup
}

// NewCoordinator creates a coordinator backed by remote
func NewCoordinator(remote Remote, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		remote:  remote,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// OnError registers the error listener
func (c *Coordinator) OnError(fn ErrorListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// OnStateChange registers the visible state listener
func (c *Coordinator) OnStateChange(fn StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Seed installs a known authoritative state, typically fetched on load.
// It is ignored while requests for the key are in flight.
func (c *Coordinator) Seed(state *models.WatchState) {
	c.mu.Lock()
	e := c.entry(state.Ref)
	if e.pending > 0 {
		c.mu.Unlock()
		return
	}
	e.visible = state.Clone()
	e.confirmed = state.Clone()
	onChange := c.onChange
	c.mu.Unlock()

	if onChange != nil {
		onChange(state.Ref, state.Clone())
	}
}

// State returns the visible state of a media item
func (c *Coordinator) State(ref models.MediaRef) *models.WatchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry(ref).visible.Clone()
}

// Apply requests a status change. The visible state changes before Apply
// returns; the channel delivers exactly one Resolution.
func (c *Coordinator) Apply(ctx context.Context, ref models.MediaRef, status models.Status, opts models.TransitionOptions) <-chan Resolution {
	return c.submit(ctx, ref,
		func(current *models.WatchState) *models.WatchState {
			return Predict(current, status, opts)
		},
		func(ctx context.Context) (*models.WatchState, error) {
			return c.remote.ApplyTransition(ctx, ref, status, opts)
		},
	)
}

// ToggleEpisode flips one episode of a show
func (c *Coordinator) ToggleEpisode(ctx context.Context, show models.MediaRef, ep models.EpisodeRef) <-chan Resolution {
	return c.submit(ctx, show,
		func(current *models.WatchState) *models.WatchState {
			return PredictToggle(current, ep)
		},
		func(ctx context.Context) (*models.WatchState, error) {
			return c.remote.ToggleEpisode(ctx, show.ID, ep)
		},
	)
}

// SetEpisodes marks or unmarks a batch of episodes of a show, such as a
// whole season
func (c *Coordinator) SetEpisodes(ctx context.Context, show models.MediaRef, episodes []models.EpisodeRef, watched bool) <-chan Resolution {
	episodes = append([]models.EpisodeRef(nil), episodes...)
	return c.submit(ctx, show,
		func(current *models.WatchState) *models.WatchState {
			return PredictEpisodes(current, episodes, watched)
		},
		func(ctx context.Context) (*models.WatchState, error) {
			return c.remote.SetEpisodes(ctx, show.ID, episodes, watched)
		},
	)
}

// Wait blocks until every in-flight request has resolved
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

func (c *Coordinator) entry(ref models.MediaRef) *entry {
	e, ok := c.entries[ref.Key()]
	if !ok {
		initial := models.UnwatchedState(ref)
		e = &entry{visible: initial, confirmed: initial.Clone()}
		c.entries[ref.Key()] = e
	}
	return e
}

func (c *Coordinator) submit(ctx context.Context, ref models.MediaRef, guess func(*models.WatchState) *models.WatchState, call func(context.Context) (*models.WatchState, error)) <-chan Resolution {
	out := make(chan Resolution, 1)

	c.mu.Lock()
	e := c.entry(ref)
	e.latest++
	seq := e.latest
	e.pending++
	e.latestFailed = false
	e.visible = guess(e.visible.Clone())
	visible := e.visible.Clone()
	onChange := c.onChange
	c.mu.Unlock()

	if onChange != nil {
		onChange(ref, visible)
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		state, err := call(ctx)
		out <- c.resolve(ref, seq, state, err)
		close(out)
	}()

	return out
}

func (c *Coordinator) resolve(ref models.MediaRef, seq uint64, state *models.WatchState, err error) Resolution {
	c.mu.Lock()
	e := c.entry(ref)
	e.pending--

	if err == nil && seq > e.confirmedSeq {
		e.confirmed = state.Clone()
		e.confirmedSeq = seq
	}

	fields := logrus.Fields{
		"media": ref.Key(),
		"seq":   seq,
	}

	if seq != e.latest {
		// The newest request already failed and reverted; once the last older
		// request settles the view follows whatever the server confirmed
		settled := e.latestFailed && e.pending == 0
		if settled {
			e.visible = e.confirmed.Clone()
			e.latestFailed = false
		}
		res := Resolution{Ref: ref, Seq: seq, State: state, Visible: e.visible.Clone(), Err: models.ErrStaleRequest}
		onChange := c.onChange
		c.mu.Unlock()

		c.logger.WithFields(fields).Debug("Ignoring superseded resolution")
		if settled && onChange != nil {
			onChange(ref, res.Visible.Clone())
		}
		return res
	}

	if err == nil {
		e.visible = state.Clone()
	} else {
		e.visible = e.confirmed.Clone()
		e.latestFailed = e.pending > 0
	}

	res := Resolution{Ref: ref, Seq: seq, State: state, Visible: e.visible.Clone(), Err: err}
	onChange, onError := c.onChange, c.onError
	c.mu.Unlock()

	if onChange != nil {
		onChange(ref, res.Visible.Clone())
	}
	if err != nil {
		kind := models.ErrorKind(err)
		c.logger.WithError(err).WithFields(fields).WithField("kind", kind).Warn("Transition failed, reverted visible state")
		if onError != nil {
			onError(ref, kind, err)
		}
	}

	return res
}
