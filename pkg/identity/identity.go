// Package identity carries the acting user through a request. The host
// application authenticates users; coursetrail only receives the result,
// either as trusted headers or by looking the user up in a directory file.
package identity

import (
	"context"
	"errors"

	"github.com/platinummonkey/coursetrail/pkg/contextkeys"
)

// Role is a course-level role known to the host application
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleGuest   Role = "guest"
)

// CapabilityViewAudit grants read access to the audit trail without a role
const CapabilityViewAudit = "coursetrail:viewaudit"

// ErrNoIdentity is returned when a context carries no caller identity
var ErrNoIdentity = errors.New("no caller identity in context")

// Identity is the caller as seen at request time
type Identity struct {
	UserID       int64    `json:"user_id" yaml:"id"`
	Username     string   `json:"username" yaml:"username"`
	Email        string   `json:"email,omitempty" yaml:"email"`
	DisplayName  string   `json:"display_name,omitempty" yaml:"display_name"`
	Roles        []Role   `json:"roles,omitempty" yaml:"roles"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities"`

	// Per-request attributes, never read from the directory.
	IPAddress string `json:"ip_address,omitempty" yaml:"-"`
	SessionID string `json:"session_id,omitempty" yaml:"-"`
	CourseID  int64  `json:"course_id,omitempty" yaml:"-"`
}

// HasRole reports whether the identity holds role
func (i *Identity) HasRole(role Role) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the identity is a site administrator
func (i *Identity) IsAdmin() bool { return i.HasRole(RoleAdmin) }

// IsTeacher reports whether the identity teaches at least one course
func (i *Identity) IsTeacher() bool { return i.HasRole(RoleTeacher) }

// IsStudent reports whether the identity is enrolled as a student
func (i *Identity) IsStudent() bool { return i.HasRole(RoleStudent) }

// HasCapability reports whether the identity was granted capability explicitly
func (i *Identity) HasCapability(capability string) bool {
	if i == nil {
		return false
	}
	for _, c := range i.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// WithIdentity stores id in ctx
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return contextkeys.WithIdentity(ctx, id)
}

// FromContext returns the caller identity stored in ctx
func FromContext(ctx context.Context) (*Identity, error) {
	if id, ok := ctx.Value(contextkeys.IdentityKey).(*Identity); ok && id != nil {
		return id, nil
	}
	return nil, ErrNoIdentity
}

// RosterProvider resolves which students a teacher may see. A courseID of 0
// means every course the teacher teaches.
type RosterProvider interface {
	StudentIDs(ctx context.Context, teacherID, courseID int64) ([]int64, error)
}
