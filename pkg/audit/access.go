package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/coursetrail/pkg/identity"
)

// ErrAccessDenied is returned when the caller may not read the audit trail
var ErrAccessDenied = errors.New("access to audit trail denied")

// CanUserAccessAudit reports whether the caller may read the audit trail:
// administrators, teachers and holders of the view capability may.
func (s *Service) CanUserAccessAudit(ctx context.Context) bool {
	id, err := identity.FromContext(ctx)
	if err != nil {
		return false
	}
	return canAccessAudit(id)
}

func canAccessAudit(id *identity.Identity) bool {
	return id.IsAdmin() || id.IsTeacher() || id.HasCapability(identity.CapabilityViewAudit)
}

// GetFilteredEvents searches with criteria narrowed to what the caller may
// see. Administrators are not narrowed. Teachers are narrowed to themselves
// and their students when a roster provider is configured. Everyone else only
// sees their own events, whatever user filter criteria carried.
func (s *Service) GetFilteredEvents(ctx context.Context, criteria SearchCriteria) (*SearchResult, error) {
	scoped, err := s.scopeCriteria(ctx, criteria)
	if err != nil {
		return nil, err
	}
	return s.repo.Search(ctx, scoped)
}

func (s *Service) scopeCriteria(ctx context.Context, criteria SearchCriteria) (SearchCriteria, error) {
	id, err := identity.FromContext(ctx)
	if err != nil {
		return criteria, err
	}

	if !id.IsAdmin() && !id.IsTeacher() {
		return criteria.WithUserID(id.UserID), nil
	}
	users, scoped, err := s.auditScope(ctx, id)
	if err != nil || !scoped {
		return criteria, err
	}
	return criteria.narrowToUsers(users), nil
}

// auditScope returns the user ids a teacher's audit reads are confined to:
// the teacher plus their students. scoped is false for administrators and
// when no roster provider is configured.
func (s *Service) auditScope(ctx context.Context, id *identity.Identity) (users []int64, scoped bool, err error) {
	if id.IsAdmin() || !id.IsTeacher() || s.roster == nil {
		return nil, false, nil
	}
	students, err := s.roster.StudentIDs(ctx, id.UserID, id.CourseID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve roster for teacher %d: %w", id.UserID, err)
	}
	return append([]int64{id.UserID}, students...), true, nil
}

// requireUserVisible returns ErrAccessDenied unless the caller may read
// userID's activity: their own, or any user within their audit scope.
func (s *Service) requireUserVisible(ctx context.Context, userID int64) error {
	id, err := identity.FromContext(ctx)
	if err != nil {
		return err
	}
	if id.UserID == userID {
		return nil
	}
	if !canAccessAudit(id) {
		return ErrAccessDenied
	}
	users, scoped, err := s.auditScope(ctx, id)
	if err != nil {
		return err
	}
	if scoped && !containsInt64(users, userID) {
		return ErrAccessDenied
	}
	return nil
}

// requireUnscoped admits audit readers whose view is not confined to a
// roster. Trail-wide aggregates such as statistics and the dashboard need it.
func (s *Service) requireUnscoped(ctx context.Context) error {
	id, err := requireAudit(ctx)
	if err != nil {
		return err
	}
	_, scoped, err := s.auditScope(ctx, id)
	if err != nil {
		return err
	}
	if scoped {
		return ErrAccessDenied
	}
	return nil
}

// GetVisibleHighRiskEvents is GetRecentHighRiskEvents limited to the
// caller's audit scope.
func (s *Service) GetVisibleHighRiskEvents(ctx context.Context, hours, limit int) ([]*AuditEvent, error) {
	result, err := s.GetFilteredEvents(ctx, s.highRiskCriteria(hours, limit))
	if err != nil {
		return nil, err
	}
	return result.Events, nil
}

// GetVisibleResourceAuditTrail is GetResourceAuditTrail limited to the
// caller's audit scope.
func (s *Service) GetVisibleResourceAuditTrail(ctx context.Context, resourceType ResourceType, resourceID string, limit int) ([]*AuditEvent, error) {
	id, err := identity.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	_, scoped, err := s.auditScope(ctx, id)
	if err != nil {
		return nil, err
	}
	if !scoped {
		return s.GetResourceAuditTrail(ctx, resourceType, resourceID, limit)
	}
	result, err := s.GetFilteredEvents(ctx, NewSearchCriteria().WithResource(resourceType, resourceID).WithLimit(limit))
	if err != nil {
		return nil, err
	}
	return result.Events, nil
}

// requireAudit returns ErrAccessDenied unless the caller may read the trail
func requireAudit(ctx context.Context) (*identity.Identity, error) {
	id, err := identity.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !canAccessAudit(id) {
		return nil, ErrAccessDenied
	}
	return id, nil
}

// requireAdmin returns ErrAccessDenied unless the caller is an administrator
func requireAdmin(ctx context.Context) (*identity.Identity, error) {
	id, err := identity.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !id.IsAdmin() {
		return nil, ErrAccessDenied
	}
	return id, nil
}
