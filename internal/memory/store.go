package memory

import (
	"context"
	"sort"
	"sync"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
)

// Store persists conversation summaries keyed by (actor, session).
type Store interface {
	// Recent returns the actor's records other than excludeSession, newest first.
	Recent(ctx context.Context, actorID int, excludeSession string, limit int) ([]dragonscale.MemoryRecord, error)
	// Upsert inserts or replaces the record for (actorID, record.SessionID).
	Upsert(ctx context.Context, actorID int, record dragonscale.MemoryRecord) error
}

type actorSession struct {
	actorID   int
	sessionID string
}

// InMemoryStore is a mutex-guarded Store for tests and single-process use.
type InMemoryStore struct {
	records map[actorSession]dragonscale.MemoryRecord
	mutex   sync.RWMutex
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[actorSession]dragonscale.MemoryRecord)}
}

func (s *InMemoryStore) Recent(ctx context.Context, actorID int, excludeSession string, limit int) ([]dragonscale.MemoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var out []dragonscale.MemoryRecord
	for key, record := range s.records {
		if key.actorID != actorID || key.sessionID == excludeSession {
			continue
		}
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Upsert(ctx context.Context, actorID int, record dragonscale.MemoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.records[actorSession{actorID: actorID, sessionID: record.SessionID}] = record
	return nil
}

// Len returns the number of stored records.
func (s *InMemoryStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.records)
}
