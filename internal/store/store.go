// Package store holds canonical signals in a bounded, partitioned in-memory window.
//
// Each partition (the global feed, or one subscriber's private feed) keeps at
// most Capacity signals. Inserting beyond that evicts the oldest by CreatedAt
// regardless of status. Eviction only drops a signal from the in-memory
// window; it is not a durability guarantee, and evicted signals are no longer
// evaluated or listed. When a Persister is configured, the durable tier keeps
// the full history.
//
// Updates are serialized per signal id. Unrelated ids proceed in parallel.
// Lock order is partition, then index; an entry lock is never taken while
// the index lock is held. A new entry is locked before it is indexed and stays
// locked until its first version is persisted.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Cyvadra/signal-relay/internal/metrics"
	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/rs/zerolog"
)

// DefaultCapacity is the per-partition retention when none is configured
const DefaultCapacity = 100

var (
	ErrNotFound         = errors.New("signal not found")
	ErrInvalidInput     = errors.New("invalid signal")
	ErrDuplicate        = errors.New("signal already stored")
	ErrTerminal         = errors.New("signal is closed or cancelled")
	ErrTargetRegression = errors.New("take-profit index cannot decrease")
	ErrImmutableField   = errors.New("identity fields cannot change")
)

// Persister is the durable tier behind the in-memory window
type Persister interface {
	Save(ctx context.Context, sig *models.Signal) error
	LoadRecent(ctx context.Context, perPartition int) ([]*models.Signal, error)
}

// Mutation edits a private copy of a signal. Returning an error discards the copy.
type Mutation func(sig *models.Signal) error

// Filter selects signals for listing
type Filter struct {
	// Partitions restricts the scan; empty means every partition.
	Partitions      []string
	AssetClass      models.AssetClass
	ActiveOnly      bool
	DirectionalOnly bool
	Limit           int
}

// VisibleTo returns the partitions a subscriber can see: the global feed and its own.
func VisibleTo(subscriberID string) []string {
	if subscriberID == models.GlobalScope {
		return []string{models.PartitionFor(models.GlobalScope)}
	}
	return []string{models.PartitionFor(models.GlobalScope), models.PartitionFor(subscriberID)}
}

type entry struct {
	mu  sync.Mutex
	sig *models.Signal
}

type slot struct {
	id        string
	createdAt time.Time
}

type partition struct {
	mu    sync.Mutex
	slots []slot // ascending by createdAt
}

// Store is the in-memory signal window
type Store struct {
	capacity  int
	persister Persister
	log       zerolog.Logger
	now       func() time.Time

	pmu        sync.Mutex
	partitions map[string]*partition

	imu     sync.RWMutex
	byID    map[string]*entry
	byClass map[models.AssetClass]map[string]*entry
}

// Option configures a Store
type Option func(*Store)

// WithCapacity sets the per-partition retention
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithPersister attaches a durable tier
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithClock overrides the update timestamp source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store
func New(opts ...Option) *Store {
	s := &Store{
		capacity:   DefaultCapacity,
		log:        zerolog.Nop(),
		now:        time.Now,
		partitions: make(map[string]*partition),
		byID:       make(map[string]*entry),
		byClass:    make(map[models.AssetClass]map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capacity returns the per-partition retention
func (s *Store) Capacity() int {
	return s.capacity
}

// Put inserts a new signal. It returns the committed copy and the ids evicted
// to make room for it.
func (s *Store) Put(ctx context.Context, sig *models.Signal) (*models.Signal, []string, error) {
	if sig == nil || sig.ID == "" || sig.Symbol == "" {
		return nil, nil, ErrInvalidInput
	}
	c := sig.Clone()
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Status == "" {
		c.Status = models.StatusActive
	}

	e := &entry{sig: c}
	e.mu.Lock()
	defer e.mu.Unlock()

	evicted, err := s.insert(e)
	if err != nil {
		return nil, nil, err
	}
	s.persist(ctx, c)
	return c.Clone(), evicted, nil
}

// Load warms the window from the durable tier
func (s *Store) Load(ctx context.Context) (int, error) {
	if s.persister == nil {
		return 0, nil
	}
	sigs, err := s.persister.LoadRecent(ctx, s.capacity)
	if err != nil {
		return 0, fmt.Errorf("load recent signals: %w", err)
	}

	loaded := 0
	for _, sig := range sigs {
		if _, err := s.insert(&entry{sig: sig.Clone()}); err != nil {
			if errors.Is(err, ErrDuplicate) {
				continue
			}
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

func (s *Store) insert(e *entry) ([]string, error) {
	sig := e.sig
	p := s.partition(sig.PartitionKey())

	p.mu.Lock()
	defer p.mu.Unlock()

	s.imu.Lock()
	if _, exists := s.byID[sig.ID]; exists {
		s.imu.Unlock()
		return nil, ErrDuplicate
	}
	s.byID[sig.ID] = e
	s.indexClass(sig.AssetClass)[sig.ID] = e
	s.imu.Unlock()

	i := sort.Search(len(p.slots), func(i int) bool {
		return p.slots[i].createdAt.After(sig.CreatedAt)
	})
	p.slots = append(p.slots, slot{})
	copy(p.slots[i+1:], p.slots[i:])
	p.slots[i] = slot{id: sig.ID, createdAt: sig.CreatedAt}

	var evicted []string
	for len(p.slots) > s.capacity {
		oldest := p.slots[0]
		p.slots = p.slots[1:]
		evicted = append(evicted, oldest.id)
	}

	s.imu.Lock()
	for _, id := range evicted {
		if old, ok := s.byID[id]; ok {
			delete(s.byID, id)
			for _, idx := range s.byClass {
				if idx[id] == old {
					delete(idx, id)
				}
			}
		}
	}
	total := len(s.byID)
	s.imu.Unlock()

	metrics.SetStoredSignals(total)
	return evicted, nil
}

// indexClass must be called with imu held for writing
func (s *Store) indexClass(class models.AssetClass) map[string]*entry {
	idx, ok := s.byClass[class]
	if !ok {
		idx = make(map[string]*entry)
		s.byClass[class] = idx
	}
	return idx
}

func (s *Store) partition(key string) *partition {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	p, ok := s.partitions[key]
	if !ok {
		p = &partition{}
		s.partitions[key] = p
	}
	return p
}

func (s *Store) lookup(id string) *entry {
	s.imu.RLock()
	defer s.imu.RUnlock()
	return s.byID[id]
}

// Get returns a copy of the signal
func (s *Store) Get(ctx context.Context, id string) (*models.Signal, error) {
	e := s.lookup(id)
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sig.Clone(), nil
}

// ListActive returns active signals matching the filter, newest first
func (s *Store) ListActive(ctx context.Context, f Filter) ([]*models.Signal, error) {
	f.ActiveOnly = true
	return s.List(ctx, f)
}

// List returns signals matching the filter, newest first
func (s *Store) List(ctx context.Context, f Filter) ([]*models.Signal, error) {
	s.imu.RLock()
	var candidates []*entry
	if f.AssetClass != "" {
		for _, e := range s.byClass[f.AssetClass] {
			candidates = append(candidates, e)
		}
	} else {
		for _, e := range s.byID {
			candidates = append(candidates, e)
		}
	}
	s.imu.RUnlock()

	parts := make(map[string]bool, len(f.Partitions))
	for _, p := range f.Partitions {
		parts[p] = true
	}

	out := make([]*models.Signal, 0, len(candidates))
	for _, e := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.mu.Lock()
		sig := e.sig
		keep := (len(parts) == 0 || parts[sig.PartitionKey()]) &&
			(!f.ActiveOnly || sig.Status == models.StatusActive) &&
			(!f.DirectionalOnly || sig.IsDirectional())
		if keep {
			out = append(out, sig.Clone())
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// RecentActive returns the newest active signals visible to subscriberID: the
// global feed plus its own partition
func (s *Store) RecentActive(ctx context.Context, subscriberID string, limit int) ([]*models.Signal, error) {
	return s.ListActive(ctx, Filter{Partitions: VisibleTo(subscriberID), Limit: limit})
}

// Update applies mutation atomically to one signal and returns the committed copy.
// Terminal signals are never mutated.
func (s *Store) Update(ctx context.Context, id string, mutate Mutation) (*models.Signal, error) {
	e := s.lookup(id)
	if e == nil {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	orig := e.sig
	if orig.IsTerminal() {
		return orig.Clone(), ErrTerminal
	}

	next := orig.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	switch {
	case next.ID != orig.ID || next.SubscriberID != orig.SubscriberID || !next.CreatedAt.Equal(orig.CreatedAt):
		return nil, ErrImmutableField
	case next.CurrentTargetIndex < orig.CurrentTargetIndex:
		return nil, ErrTargetRegression
	}

	now := s.now().UTC()
	next.Version = orig.Version + 1
	next.UpdatedAt = now
	if next.IsTerminal() && next.ClosedAt == nil {
		next.ClosedAt = &now
	}

	s.persist(ctx, next)
	e.sig = next
	return next.Clone(), nil
}

// Len returns the number of signals in the window
func (s *Store) Len() int {
	s.imu.RLock()
	defer s.imu.RUnlock()
	return len(s.byID)
}

func (s *Store) persist(ctx context.Context, sig *models.Signal) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(ctx, sig); err != nil {
		s.log.Warn().Err(err).Str("signal_id", sig.ID).Msg("failed to persist signal")
	}
}
