package audit

import "time"

// SearchCriteria filters audit events. The zero value matches everything;
// every With method returns a modified copy and leaves the receiver intact.
type SearchCriteria struct {
	userID       *int64
	userIDs      []int64
	userSet      bool
	from         time.Time
	to           time.Time
	riskLevel    RiskLevel
	highRiskOnly bool
	eventTypes   []EventType
	resourceType ResourceType
	resourceID   string
	limit        int
	offset       int
}

// NewSearchCriteria returns criteria that match every event
func NewSearchCriteria() SearchCriteria {
	return SearchCriteria{}
}

// WithUserID restricts results to one user, replacing any user filter
func (c SearchCriteria) WithUserID(userID int64) SearchCriteria {
	c.userID = &userID
	c.userIDs = nil
	c.userSet = false
	return c
}

// WithUserIDs restricts results to a set of users, replacing any user filter.
// An empty set matches no events.
func (c SearchCriteria) WithUserIDs(userIDs ...int64) SearchCriteria {
	c.userID = nil
	c.userIDs = append([]int64{}, userIDs...)
	c.userSet = true
	return c
}

// WithDateRange restricts results to [from, to]; a zero bound is open
func (c SearchCriteria) WithDateRange(from, to time.Time) SearchCriteria {
	c.from = from
	c.to = to
	return c
}

// WithFrom sets the lower time bound
func (c SearchCriteria) WithFrom(from time.Time) SearchCriteria {
	c.from = from
	return c
}

// WithRiskLevel restricts results to one risk level
func (c SearchCriteria) WithRiskLevel(level RiskLevel) SearchCriteria {
	c.riskLevel = level
	return c
}

// WithHighRiskOnly restricts results to high and critical events
func (c SearchCriteria) WithHighRiskOnly(highRiskOnly bool) SearchCriteria {
	c.highRiskOnly = highRiskOnly
	return c
}

// WithEventTypes restricts results to the given event types
func (c SearchCriteria) WithEventTypes(types ...EventType) SearchCriteria {
	c.eventTypes = append([]EventType(nil), types...)
	return c
}

// WithResource restricts results to a single resource; an empty id matches
// every resource of the type
func (c SearchCriteria) WithResource(resourceType ResourceType, resourceID string) SearchCriteria {
	c.resourceType = resourceType
	c.resourceID = resourceID
	return c
}

// WithLimit caps the number of returned events; 0 means no cap
func (c SearchCriteria) WithLimit(limit int) SearchCriteria {
	c.limit = limit
	return c
}

// WithOffset skips the first offset matching events
func (c SearchCriteria) WithOffset(offset int) SearchCriteria {
	c.offset = offset
	return c
}

// UserID returns the single-user filter, if any
func (c SearchCriteria) UserID() (int64, bool) {
	if c.userID == nil {
		return 0, false
	}
	return *c.userID, true
}

// UserIDs returns the user-set filter and whether one is applied
func (c SearchCriteria) UserIDs() ([]int64, bool) {
	return append([]int64(nil), c.userIDs...), c.userSet
}

// From returns the lower time bound; zero when open
func (c SearchCriteria) From() time.Time { return c.from }

// To returns the upper time bound; zero when open
func (c SearchCriteria) To() time.Time { return c.to }

// RiskLevel returns the risk level filter
func (c SearchCriteria) RiskLevel() RiskLevel { return c.riskLevel }

// HighRiskOnly reports whether only high and critical events match
func (c SearchCriteria) HighRiskOnly() bool { return c.highRiskOnly }

// EventTypes returns the event type filter
func (c SearchCriteria) EventTypes() []EventType {
	return append([]EventType(nil), c.eventTypes...)
}

// Resource returns the resource filter
func (c SearchCriteria) Resource() (ResourceType, string) { return c.resourceType, c.resourceID }

// Limit returns the result cap; 0 means none
func (c SearchCriteria) Limit() int { return c.limit }

// Offset returns the number of matches to skip
func (c SearchCriteria) Offset() int { return c.offset }

// Matches reports whether e passes every filter except limit and offset
func (c SearchCriteria) Matches(e *AuditEvent) bool {
	if c.userID != nil && e.User.UserID != *c.userID {
		return false
	}
	if c.userSet && !containsInt64(c.userIDs, e.User.UserID) {
		return false
	}
	if !c.from.IsZero() && e.Timestamp.Before(c.from) {
		return false
	}
	if !c.to.IsZero() && e.Timestamp.After(c.to) {
		return false
	}
	if c.riskLevel != "" && e.RiskLevel != c.riskLevel {
		return false
	}
	if c.highRiskOnly && !e.RiskLevel.IsHighRisk() {
		return false
	}
	if len(c.eventTypes) > 0 && !containsEventType(c.eventTypes, e.EventType) {
		return false
	}
	if c.resourceType != "" && e.Resource.ResourceType != c.resourceType {
		return false
	}
	if c.resourceID != "" && e.Resource.ResourceID != c.resourceID {
		return false
	}
	return true
}

// narrowToUsers intersects the user filter with allowed
func (c SearchCriteria) narrowToUsers(allowed []int64) SearchCriteria {
	if id, ok := c.UserID(); ok {
		if containsInt64(allowed, id) {
			return c
		}
		return c.WithUserIDs()
	}
	if c.userSet {
		var kept []int64
		for _, id := range c.userIDs {
			if containsInt64(allowed, id) {
				kept = append(kept, id)
			}
		}
		return c.WithUserIDs(kept...)
	}
	return c.WithUserIDs(allowed...)
}

func containsInt64(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func containsEventType(types []EventType, t EventType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}
