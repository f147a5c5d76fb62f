package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps events in process memory. It is safe for
// concurrent use.
type MemoryRepository struct {
	mu     sync.RWMutex
	events []*AuditEvent
	nextID int64
	now    func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{nextID: 1, now: time.Now}
}

// Save implements Repository
func (r *MemoryRepository) Save(ctx context.Context, event *AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event.ID = r.nextID
	r.nextID++
	r.events = append(r.events, event)
	return nil
}

// Search implements Repository
func (r *MemoryRepository) Search(ctx context.Context, criteria SearchCriteria) (*SearchResult, error) {
	r.mu.RLock()
	matched := make([]*AuditEvent, 0)
	for _, e := range r.events {
		if criteria.Matches(e) {
			matched = append(matched, e)
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(matched)
	total := int64(len(matched))

	if off := criteria.Offset(); off > 0 {
		if off >= len(matched) {
			matched = matched[:0]
		} else {
			matched = matched[off:]
		}
	}
	if limit := criteria.Limit(); limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return &SearchResult{Events: matched, Total: total}, nil
}

// GetStatistics implements Repository
func (r *MemoryRepository) GetStatistics(ctx context.Context) (*Statistics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := newStatistics()
	since := r.now().Add(-24 * time.Hour)
	users := make(map[int64]*UserCount)
	resources := make(map[ResourceContext]*ResourceCount)

	for _, e := range r.events {
		stats.TotalEvents++
		stats.EventsByType[e.EventType]++
		stats.EventsByRiskLevel[e.RiskLevel]++
		if !e.Timestamp.Before(since) {
			stats.EventsLast24Hours++
		}

		uc, ok := users[e.User.UserID]
		if !ok {
			uc = &UserCount{UserID: e.User.UserID}
			users[e.User.UserID] = uc
		}
		uc.Username = e.User.Username
		uc.Count++

		key := ResourceContext{ResourceType: e.Resource.ResourceType, ResourceID: e.Resource.ResourceID}
		rc, ok := resources[key]
		if !ok {
			rc = &ResourceCount{ResourceType: key.ResourceType, ResourceID: key.ResourceID}
			resources[key] = rc
		}
		rc.ResourceName = e.Resource.ResourceName
		rc.Count++
	}
	stats.UniqueUsers = int64(len(users))

	for _, uc := range users {
		stats.TopUsers = append(stats.TopUsers, *uc)
	}
	sort.Slice(stats.TopUsers, func(i, j int) bool {
		a, b := stats.TopUsers[i], stats.TopUsers[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.UserID < b.UserID
	})
	if len(stats.TopUsers) > TopListSize {
		stats.TopUsers = stats.TopUsers[:TopListSize]
	}

	for _, rc := range resources {
		stats.TopResources = append(stats.TopResources, *rc)
	}
	sort.Slice(stats.TopResources, func(i, j int) bool {
		a, b := stats.TopResources[i], stats.TopResources[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.ResourceType != b.ResourceType {
			return a.ResourceType < b.ResourceType
		}
		return a.ResourceID < b.ResourceID
	})
	if len(stats.TopResources) > TopListSize {
		stats.TopResources = stats.TopResources[:TopListSize]
	}

	return stats, nil
}

// FindByResource implements Repository
func (r *MemoryRepository) FindByResource(ctx context.Context, resourceType ResourceType, resourceID string, limit int) ([]*AuditEvent, error) {
	result, err := r.Search(ctx, NewSearchCriteria().WithResource(resourceType, resourceID).WithLimit(limit))
	if err != nil {
		return nil, err
	}
	return result.Events, nil
}

// DeleteOlderThan implements Repository
func (r *MemoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0]
	var deleted int64
	for _, e := range r.events {
		if e.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(r.events); i++ {
		r.events[i] = nil
	}
	r.events = kept
	return deleted, nil
}

// Len returns the number of stored events
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

func sortNewestFirst(events []*AuditEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.After(events[j].Timestamp)
		}
		return events[i].ID > events[j].ID
	})
}
