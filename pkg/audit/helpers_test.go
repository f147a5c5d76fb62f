package audit

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/coursetrail/pkg/identity"
)

var (
	adminUser   = &identity.Identity{UserID: 1, Username: "root", Email: "root@example.com", Roles: []identity.Role{identity.RoleAdmin, identity.RoleTeacher}}
	teacherUser = &identity.Identity{UserID: 2, Username: "mrs.t", Roles: []identity.Role{identity.RoleTeacher}, CourseID: 100}
	auditorUser = &identity.Identity{UserID: 3, Username: "auditor", Capabilities: []string{identity.CapabilityViewAudit}}
	studentUser = &identity.Identity{
		UserID:      10,
		Username:    "alice",
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Roles:       []identity.Role{identity.RoleStudent},
		IPAddress:   "203.0.113.5",
		SessionID:   "sess-10",
		CourseID:    100,
	}
)

func asUser(id *identity.Identity) context.Context {
	return identity.WithIdentity(context.Background(), id)
}

// fixedClock returns a clock frozen at t
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// recordingRepository captures every call and returns canned results
type recordingRepository struct {
	mu sync.Mutex

	saved     []*AuditEvent
	criteria  []SearchCriteria
	cutoffs   []time.Time
	resources []string

	saveErr     error
	searchErr   error
	statsErr    error
	result      *SearchResult
	stats       *Statistics
	deleteCount int64
}

func (r *recordingRepository) Save(ctx context.Context, event *AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	event.ID = int64(len(r.saved) + 1)
	r.saved = append(r.saved, event)
	return nil
}

func (r *recordingRepository) Search(ctx context.Context, criteria SearchCriteria) (*SearchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.criteria = append(r.criteria, criteria)
	if r.searchErr != nil {
		return nil, r.searchErr
	}
	if r.result != nil {
		return r.result, nil
	}
	return &SearchResult{Events: []*AuditEvent{}}, nil
}

func (r *recordingRepository) GetStatistics(ctx context.Context) (*Statistics, error) {
	if r.statsErr != nil {
		return nil, r.statsErr
	}
	if r.stats != nil {
		return r.stats, nil
	}
	return newStatistics(), nil
}

func (r *recordingRepository) FindByResource(ctx context.Context, resourceType ResourceType, resourceID string, limit int) ([]*AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources = append(r.resources, string(resourceType)+"/"+resourceID)
	return []*AuditEvent{}, nil
}

func (r *recordingRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cutoffs = append(r.cutoffs, cutoff)
	return r.deleteCount, nil
}

func (r *recordingRepository) lastCriteria() SearchCriteria {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.criteria[len(r.criteria)-1]
}

// staticRoster maps teacher ids to student ids
type staticRoster struct {
	students map[int64][]int64
	err      error
	calls    []int64
}

func (s *staticRoster) StudentIDs(ctx context.Context, teacherID, courseID int64) ([]int64, error) {
	s.calls = append(s.calls, courseID)
	if s.err != nil {
		return nil, s.err
	}
	return s.students[teacherID], nil
}

// event builds a stored-looking event for repository and encoder tests
func event(id int64, eventType EventType, risk RiskLevel, userID int64, ts time.Time) *AuditEvent {
	return &AuditEvent{
		ID:        id,
		EventType: eventType,
		Timestamp: ts,
		User:      UserContext{UserID: userID, Username: "user"},
		Resource:  ResourceContext{ResourceType: ResourceTypeFolder, ResourceID: "f1", ResourceName: "Week 1"},
		RiskLevel: risk,
		Details:   map[string]interface{}{},
	}
}
