package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/speedrun-hq/intentmesh/pkg/models"
	"github.com/speedrun-hq/intentmesh/pkg/storage"
)

// index is a set of intent ids keyed by an attribute value
type index map[string]map[string]struct{}

func (ix index) add(key, id string) {
	ids, exists := ix[key]
	if !exists {
		ids = make(map[string]struct{})
		ix[key] = ids
	}
	ids[id] = struct{}{}
}

func (ix index) remove(key, id string) {
	ids, exists := ix[key]
	if !exists {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(ix, key)
	}
}

// IntentStore is an in-memory implementation of storage.IntentStore.
// Secondary indexes on status, creator and both tokens are kept in step with every write.
type IntentStore struct {
	mu   sync.RWMutex
	opts storage.Options
	data map[string]*models.Intent // keyed by intent id

	byStatus    index
	byCreator   index
	byFromToken index
	byToToken   index
}

// NewIntentStore creates a new in-memory intent store.
func NewIntentStore(opts ...storage.Option) *IntentStore {
	return &IntentStore{
		opts:        storage.ApplyOptions(opts...),
		data:        make(map[string]*models.Intent),
		byStatus:    make(index),
		byCreator:   make(index),
		byFromToken: make(index),
		byToToken:   make(index),
	}
}

// Compile-time interface check.
var _ storage.IntentStore = (*IntentStore)(nil)

func (s *IntentStore) indexAdd(i *models.Intent) {
	s.byStatus.add(string(i.Status), i.ID)
	s.byCreator.add(i.CreatorAddress, i.ID)
	s.byFromToken.add(i.FromToken, i.ID)
	s.byToToken.add(i.ToToken, i.ID)
}

func (s *IntentStore) indexRemove(i *models.Intent) {
	s.byStatus.remove(string(i.Status), i.ID)
	s.byCreator.remove(i.CreatorAddress, i.ID)
	s.byFromToken.remove(i.FromToken, i.ID)
	s.byToToken.remove(i.ToToken, i.ID)
}

// Create stores a new active intent. Returns ErrDuplicateKey on id collision.
func (s *IntentStore) Create(_ context.Context, data models.CreateIntent) (*models.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.opts.NewID()
	if _, exists := s.data[id]; exists {
		return nil, storage.ErrDuplicateKey
	}

	record := storage.NewRecord(id, data, s.opts.Clock.Now())
	s.data[id] = &record
	s.indexAdd(&record)

	// Return a copy
	created := record
	return &created, nil
}

// Get retrieves an intent by id. Returns ErrNotFound if absent.
func (s *IntentStore) Get(_ context.Context, id string) (*models.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	intentCopy := *record
	return &intentCopy, nil
}

// candidates returns the smallest index set selected by filter, or nil to scan everything
func (s *IntentStore) candidates(filter models.IntentFilter) (map[string]struct{}, bool) {
	var best map[string]struct{}
	found := false
	consider := func(ix index, key string) {
		if key == "" {
			return
		}
		ids := ix[key]
		if !found || len(ids) < len(best) {
			best = ids
			found = true
		}
	}
	consider(s.byStatus, string(filter.Status))
	consider(s.byCreator, filter.CreatorAddress)
	consider(s.byFromToken, filter.FromToken)
	consider(s.byToToken, filter.ToToken)
	return best, found
}

// List returns matching intents, newest first.
func (s *IntentStore) List(_ context.Context, filter models.IntentFilter) ([]models.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Intent, 0)
	ids, indexed := s.candidates(filter)
	if indexed {
		for id := range ids {
			if record := s.data[id]; filter.Matches(*record) {
				result = append(result, *record)
			}
		}
	} else {
		for _, record := range s.data {
			result = append(result, *record)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return storage.Newer(result[i], result[j])
	})
	return result, nil
}

// Update merges update into the stored record.
func (s *IntentStore) Update(ctx context.Context, id string, update models.IntentUpdate) (*models.Intent, error) {
	return s.Modify(ctx, id, func(models.Intent) (models.IntentUpdate, error) {
		return update, nil
	})
}

// Modify applies fn to the current record under the write lock.
func (s *IntentStore) Modify(_ context.Context, id string, fn storage.ModifyFunc) (*models.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	update, err := fn(*record)
	if err != nil {
		return nil, err
	}

	merged, err := storage.Merge(*record, update, s.opts.Clock.Now())
	if err != nil {
		return nil, err
	}

	s.indexRemove(record)
	*record = merged
	s.indexAdd(record)

	updated := merged
	return &updated, nil
}

// Delete removes an intent. Returns ErrNotFound if absent.
func (s *IntentStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	s.indexRemove(record)
	delete(s.data, id)
	return nil
}

// DeleteIf runs fn and removes the intent under the write lock.
func (s *IntentStore) DeleteIf(_ context.Context, id string, fn storage.CheckFunc) (*models.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if err := fn(*record); err != nil {
		return nil, err
	}

	removed := *record
	s.indexRemove(record)
	delete(s.data, id)
	return &removed, nil
}

// SweepExpired moves active intents at or past expiry to expired.
func (s *IntentStore) SweepExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Clock.Now()
	var expired []*models.Intent
	for id := range s.byStatus[string(models.StatusActive)] {
		if record := s.data[id]; record.IsExpired(now) {
			expired = append(expired, record)
		}
	}

	for _, record := range expired {
		merged, err := storage.Merge(*record, models.StatusUpdate(models.StatusExpired), now)
		if err != nil {
			return 0, err
		}
		s.indexRemove(record)
		*record = merged
		s.indexAdd(record)
	}
	return len(expired), nil
}

// Len returns the number of stored intents.
func (s *IntentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Ping always succeeds.
func (s *IntentStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op.
func (s *IntentStore) Close() error {
	return nil
}
