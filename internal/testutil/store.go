package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/desertthunder/sharelist/internal/models"
	"github.com/desertthunder/sharelist/internal/shared"
)

// MemoryStore is an in-memory [models.ShareStore] that counts reads and writes.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]*models.ShareRecord
	byCode  map[string]string
	reads   int
	writes  int
	inserts int

	// GetErr, when set, is returned by lookups.
	GetErr error
	// UpdateErr, when set, is returned by token updates.
	UpdateErr error
	// InsertHook runs before each insert; a non-nil error aborts it.
	InsertHook func(record *models.ShareRecord) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]*models.ShareRecord{}, byCode: map[string]string{}}
}

func (s *MemoryStore) GetByCode(ctx context.Context, code string) (*models.ShareRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++

	if s.GetErr != nil {
		return nil, s.GetErr
	}
	id, ok := s.byCode[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrShareNotFound, code)
	}
	r := *s.byID[id]
	return &r, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.ShareRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++

	if s.GetErr != nil {
		return nil, s.GetErr
	}
	rec, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrShareNotFound, id)
	}
	r := *rec
	return &r, nil
}

func (s *MemoryStore) Insert(ctx context.Context, record *models.ShareRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.InsertHook != nil {
		if err := s.InsertHook(record); err != nil {
			return "", err
		}
	}
	if _, taken := s.byCode[record.ShareCode]; taken {
		return "", fmt.Errorf("%w: %s", shared.ErrShareCodeTaken, record.ShareCode)
	}
	if record.ID == "" {
		record.ID = shared.GenerateID()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.UpdatedAt = record.CreatedAt
	if err := record.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	r := *record
	s.byID[r.ID] = &r
	s.byCode[r.ShareCode] = r.ID
	s.inserts++
	return r.ID, nil
}

func (s *MemoryStore) UpdateAccessToken(ctx context.Context, id, ciphertext string) error {
	return s.update(id, func(r *models.ShareRecord) { r.EncryptedAccessToken = ciphertext })
}

func (s *MemoryStore) UpdateTokens(ctx context.Context, id, access, refresh string) error {
	return s.update(id, func(r *models.ShareRecord) {
		r.EncryptedAccessToken = access
		r.EncryptedRefreshToken = refresh
	})
}

func (s *MemoryStore) ListByOwner(ctx context.Context, owner string) ([]*models.ShareRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.ShareRecord
	for _, rec := range s.byID {
		if rec.OwnerUserID == owner {
			r := *rec
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) update(id string, fn func(*models.ShareRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	rec, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrShareNotFound, id)
	}
	fn(rec)
	rec.UpdatedAt = time.Now().UTC()
	s.writes++
	return nil
}

// Put stores record directly, bypassing Insert bookkeeping.
func (s *MemoryStore) Put(record *models.ShareRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *record
	s.byID[r.ID] = &r
	s.byCode[r.ShareCode] = r.ID
}

// Snapshot returns a copy of the stored record with id.
func (s *MemoryStore) Snapshot(id string) models.ShareRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.byID[id]
}

// Writes reports the number of successful token updates.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Inserts reports the number of successful inserts.
func (s *MemoryStore) Inserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}
