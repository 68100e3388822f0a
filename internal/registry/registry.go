// Package registry maps (channel, mode) keys to their live tournament state.
// States are loaded from the gateway on first use; concurrent loads of one key
// share a single gateway read
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Billy-Davies-2/ladder-bot/internal/dal"
	apperrors "github.com/Billy-Davies-2/ladder-bot/internal/errors"
	"github.com/Billy-Davies-2/ladder-bot/internal/history"
	"github.com/Billy-Davies-2/ladder-bot/internal/ladder"
	"github.com/Billy-Davies-2/ladder-bot/internal/logger"
	"github.com/Billy-Davies-2/ladder-bot/internal/models"
	"github.com/Billy-Davies-2/ladder-bot/internal/pubsub"
)

// DefaultChallengeTimeout is the challenge deadline of new tournaments
const DefaultChallengeTimeout = 7 * 24 * time.Hour

// Archiver stores the final snapshot of a deleted tournament
type Archiver interface {
	Archive(ctx context.Context, snap *models.Snapshot) error
}

// Registry owns every loaded tournament of the process
type Registry struct {
	gw       dal.Gateway
	opts     ladder.Options
	archiver Archiver

	loads singleflight.Group

	mu     sync.RWMutex
	states map[models.Key]*ladder.State

	// creates for one key are serialized; different keys proceed independently
	keyMu sync.Mutex
	locks map[models.Key]*sync.Mutex
}

// Option configures a Registry
type Option func(*Registry)

// WithArchiver archives the final snapshot of deleted tournaments
func WithArchiver(a Archiver) Option {
	return func(r *Registry) {
		r.archiver = a
	}
}

// New creates a registry. opts is passed to every tournament state it builds
func New(gw dal.Gateway, opts ladder.Options, options ...Option) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = 10 * time.Second
	}
	r := &Registry{
		gw:     gw,
		opts:   opts,
		states: make(map[models.Key]*ladder.State),
		locks:  make(map[models.Key]*sync.Mutex),
	}
	for _, o := range options {
		o(r)
	}
	return r
}

func keyOf(channel string, mode models.Mode) models.Key {
	if mode == "" {
		mode = models.ModeLadder1v1
	}
	return models.Key{Channel: channel, Mode: mode}
}

func notInitialized(key models.Key) error {
	return apperrors.New(apperrors.KindNotInitialized, "no %s tournament in %s; run init first", key.Mode, key.Channel)
}

// GetOrLoad returns the live state of the tournament, loading it on first
// access
func (r *Registry) GetOrLoad(ctx context.Context, channel string, mode models.Mode) (*ladder.State, error) {
	key := keyOf(channel, mode)

	r.mu.RLock()
	s, ok := r.states[key]
	r.mu.RUnlock()
	if ok {
		if !s.Active() {
			return nil, notInitialized(key)
		}
		return s, nil
	}

	v, err, shared := r.loads.Do(key.String(), func() (any, error) {
		return r.load(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.Debug("Coalesced tournament load", "tournament", key.String())
	}
	return v.(*ladder.State), nil
}

func (r *Registry) load(ctx context.Context, key models.Key) (*ladder.State, error) {
	snap, err := r.loadSnapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	if snap == nil || snap.Tournament.Status != models.TournamentActive {
		return nil, notInitialized(key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.states[key]; ok {
		if !s.Active() {
			return nil, notInitialized(key)
		}
		return s, nil
	}
	s := ladder.New(r.gw, snap, r.opts)
	r.states[key] = s
	logger.Info("Loaded tournament", "tournament", key.String(), "players", snap.RankedCount())
	return s, nil
}

func (r *Registry) loadSnapshot(ctx context.Context, key models.Key) (*models.Snapshot, error) {
	return history.Retry(ctx, 3, 50*time.Millisecond, "load tournament", func() (*models.Snapshot, error) {
		return r.gw.Load(ctx, key)
	})
}

func (r *Registry) keyLock(key models.Key) *sync.Mutex {
	r.keyMu.Lock()
	defer r.keyMu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// Create starts a tournament. creator, when set, becomes its first admin.
// Re-creating a deleted tournament continues its history sequence
func (r *Registry) Create(ctx context.Context, channel string, mode models.Mode, creator string) (*ladder.State, error) {
	key := keyOf(channel, mode)
	if key.Channel == "" {
		return nil, apperrors.New(apperrors.KindInvalidValue, "channel is required")
	}

	l := r.keyLock(key)
	l.Lock()
	defer l.Unlock()

	r.mu.RLock()
	seen, ok := r.states[key]
	r.mu.RUnlock()
	if ok && seen.Active() {
		return nil, alreadyExists(key)
	}

	prior, err := r.loadSnapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	if prior != nil && prior.Tournament.Status == models.TournamentActive {
		return nil, alreadyExists(key)
	}

	nextSeq := int64(1)
	if prior != nil && prior.NextSeq > nextSeq {
		nextSeq = prior.NextSeq
	}

	now := r.opts.Now().UTC()
	snap := &models.Snapshot{
		Tournament: models.Tournament{
			ID:               uuid.NewString(),
			Channel:          key.Channel,
			Mode:             key.Mode,
			Status:           models.TournamentActive,
			CreatedAt:        now,
			ChallengeRule:    models.RuleOpen,
			ChallengeTimeout: DefaultChallengeTimeout,
			Admins:           []string{},
		},
		Players:    []models.PlayerEntry{},
		Challenges: []models.Challenge{},
		Resolved:   []models.Challenge{},
		NextSeq:    nextSeq,
	}
	if creator != "" {
		snap.Tournament.Admins = append(snap.Tournament.Admins, creator)
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.CommitTimeout)
	defer cancel()
	if err := r.gw.Save(sctx, key, snap); err != nil {
		logger.Error("Failed to save new tournament", "tournament", key.String(), "error", err)
		return nil, apperrors.Unavailable(err, "init")
	}

	// a GetOrLoad after the save may already have installed a handle for the
	// new tournament; it stays the only one
	var s *ladder.State
	r.mu.Lock()
	if cur, ok := r.states[key]; ok && cur != seen {
		s = cur
	} else {
		s = ladder.New(r.gw, snap.Clone(), r.opts)
		r.states[key] = s
	}
	r.mu.Unlock()

	logger.Info("Tournament created", "tournament", key.String(), "id", snap.Tournament.ID, "creator", creator)
	if r.opts.Publisher != nil {
		r.opts.Publisher.Publish(pubsub.Event{
			Type:       pubsub.TournamentCreated,
			Tournament: key.String(),
			Time:       now,
			Payload:    map[string]any{"id": snap.Tournament.ID, "creator": creator},
		})
	}
	return s, nil
}

func alreadyExists(key models.Key) error {
	return apperrors.New(apperrors.KindAlreadyExists, "a %s tournament already runs in %s", key.Mode, key.Channel)
}

// Delete soft-deletes the tournament and archives its final snapshot when an
// archiver is configured. Archive failures are logged only
func (r *Registry) Delete(ctx context.Context, channel string, mode models.Mode) (*models.Snapshot, error) {
	s, err := r.GetOrLoad(ctx, channel, mode)
	if err != nil {
		return nil, err
	}

	final, err := s.Delete(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("Tournament deleted", "tournament", s.Key().String())

	if r.archiver != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := r.archiver.Archive(actx, final); err != nil {
			logger.Warn("Failed to archive deleted tournament", "tournament", s.Key().String(), "error", err)
		}
	}
	return final, nil
}

// Each calls fn for every loaded active tournament
func (r *Registry) Each(fn func(*ladder.State)) {
	r.mu.RLock()
	states := make([]*ladder.State, 0, len(r.states))
	for _, s := range r.states {
		if s.Active() {
			states = append(states, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range states {
		fn(s)
	}
}

// Len returns the number of loaded active tournaments
func (r *Registry) Len() int {
	n := 0
	r.Each(func(*ladder.State) { n++ })
	return n
}
