package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/jobrelay/pkg/domain"
)

// InMemoryJobStore implements JobStore using an in-memory map.
// Used for local mode and tests.
type InMemoryJobStore struct {
	jobs map[string]*domain.JobRecord
	mu   sync.RWMutex
	now  func() time.Time
}

// NewInMemoryJobStore creates a new in-memory job store
func NewInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{
		jobs: make(map[string]*domain.JobRecord),
		now:  time.Now,
	}
}

// Create stores a new record. Existing uuids are rejected.
func (s *InMemoryJobStore) Create(ctx context.Context, record *domain.JobRecord) error {
	if record == nil || record.UUID == "" {
		return fmt.Errorf("job record has no uuid")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[record.UUID]; exists {
		return fmt.Errorf("job record already exists: %s", record.UUID)
	}

	// Copy to avoid mutations
	s.jobs[record.UUID] = record.Clone()
	return nil
}

// Get retrieves a record by uuid
func (s *InMemoryJobStore) Get(ctx context.Context, uuid string) (*domain.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.jobs[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, uuid)
	}
	return record.Clone(), nil
}

// Transition applies a status change under the store lock
func (s *InMemoryJobStore) Transition(ctx context.Context, uuid string, t domain.JobTransition) (*domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.jobs[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, uuid)
	}

	updated := record.Clone()
	if err := updated.Apply(t, s.now().UTC()); err != nil {
		return nil, err
	}
	s.jobs[uuid] = updated
	return updated.Clone(), nil
}

// List returns all stored job uuids in sorted order
func (s *InMemoryJobStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uuids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		uuids = append(uuids, id)
	}
	sort.Strings(uuids)
	return uuids, nil
}

// InMemoryPipelineStore implements PipelineStore over a fixed set of records
type InMemoryPipelineStore struct {
	records map[string]*domain.PipelineRecord
	mu      sync.RWMutex
}

// NewInMemoryPipelineStore creates a pipeline store holding records
func NewInMemoryPipelineStore(records ...domain.PipelineRecord) *InMemoryPipelineStore {
	s := &InMemoryPipelineStore{records: make(map[string]*domain.PipelineRecord)}
	for i := range records {
		s.Put(records[i])
	}
	return s
}

// Put adds or replaces a pipeline record
func (s *InMemoryPipelineStore) Put(record domain.PipelineRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = &record
}

// FindByAppID returns the record registered for appID
func (s *InMemoryPipelineStore) FindByAppID(ctx context.Context, appID string) (*domain.PipelineRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[appID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPipelineNotFound, appID)
	}
	c := *record
	return &c, nil
}
