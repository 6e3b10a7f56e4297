package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"chat-relay/internal/models"
)

// PresenceRepository tracks which identities are online.
type PresenceRepository interface {
	SetOnline(ctx context.Context, identity models.Identity) error
	SetOffline(ctx context.Context, identity models.Identity) error
	Snapshot(ctx context.Context) ([]models.PresenceEntry, error)
	// Reset marks every known identity offline.
	Reset(ctx context.Context) error
}

// MemoryPresenceRepo keeps presence entries in process memory.
type MemoryPresenceRepo struct {
	mu      sync.RWMutex
	entries map[string]models.PresenceEntry
	now     func() time.Time
}

// NewMemoryPresenceRepo constructs an empty MemoryPresenceRepo.
func NewMemoryPresenceRepo() *MemoryPresenceRepo {
	return &MemoryPresenceRepo{
		entries: make(map[string]models.PresenceEntry),
		now:     time.Now,
	}
}

// SetOnline records the identity as online, refreshing its name and role.
func (r *MemoryPresenceRepo) SetOnline(_ context.Context, identity models.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[identity.ID] = models.PresenceEntry{
		Identity: identity,
		Status:   models.StatusOnline,
		LastSeen: r.now().UTC(),
	}
	return nil
}

// SetOffline records the identity as offline. Unknown identities are added.
func (r *MemoryPresenceRepo) SetOffline(_ context.Context, identity models.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[identity.ID] = models.PresenceEntry{
		Identity: identity,
		Status:   models.StatusOffline,
		LastSeen: r.now().UTC(),
	}
	return nil
}

// Snapshot returns every known entry sorted by identity id.
func (r *MemoryPresenceRepo) Snapshot(_ context.Context) ([]models.PresenceEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.PresenceEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sortPresence(out)
	return out, nil
}

// Reset marks every online entry offline, stamping lastSeen.
func (r *MemoryPresenceRepo) Reset(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	for id, e := range r.entries {
		if e.Status == models.StatusOnline {
			e.Status = models.StatusOffline
			e.LastSeen = now
			r.entries[id] = e
		}
	}
	return nil
}

func sortPresence(entries []models.PresenceEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
}

var _ PresenceRepository = (*MemoryPresenceRepo)(nil)
