package identity

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/coursetrail/pkg/contextkeys"
	"github.com/platinummonkey/coursetrail/pkg/httputil"
)

// Headers set by the host application in front of coursetrail
const (
	HeaderUserID      = "X-Coursetrail-User-Id"
	HeaderUsername    = "X-Coursetrail-Username"
	HeaderEmail       = "X-Coursetrail-Email"
	HeaderDisplayName = "X-Coursetrail-Display-Name"
	HeaderRoles       = "X-Coursetrail-Roles"
	HeaderSessionID   = "X-Coursetrail-Session-Id"
	HeaderCourseID    = "X-Coursetrail-Course-Id"
	HeaderRequestID   = httputil.HeaderRequestID
)

// Directory looks up users by id
type Directory interface {
	Lookup(userID int64) (Identity, bool)
}

// Middleware builds the caller Identity for each request
type Middleware struct {
	directory    Directory
	trustHeaders bool
	tokens       *TokenVerifier
}

// NewMiddleware creates the identity middleware. With a directory, user
// attributes and roles come from the directory; the profile headers are
// honoured only when trustHeaders is set.
func NewMiddleware(directory Directory, trustHeaders bool) *Middleware {
	return &Middleware{
		directory:    directory,
		trustHeaders: trustHeaders,
	}
}

// WithTokenVerifier enables Authorization: Bearer ID tokens. A request with a
// bearer token is resolved from the token alone and the user id header is ignored.
func (m *Middleware) WithTokenVerifier(v *TokenVerifier) *Middleware {
	m.tokens = v
	return m
}

// Handler wraps next, rejecting requests without a resolvable user
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)

		id, status, msg := m.resolve(r)
		if id == nil {
			httputil.WriteErrorMessage(w, status, msg)
			return
		}

		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		ctx = WithIdentity(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) resolve(r *http.Request) (*Identity, int, string) {
	if m.tokens != nil {
		if raw, ok := bearerToken(r); ok {
			return m.resolveToken(r, raw)
		}
	}

	rawID := r.Header.Get(HeaderUserID)
	if rawID == "" {
		return nil, http.StatusUnauthorized, "missing " + HeaderUserID + " header"
	}
	userID, ok := parseUserID(rawID)
	if !ok {
		return nil, http.StatusBadRequest, "invalid " + HeaderUserID + " header"
	}

	var id Identity
	found := false
	if m.directory != nil {
		id, found = m.directory.Lookup(userID)
	}

	switch {
	case found:
	case m.trustHeaders:
		id = Identity{
			UserID:      userID,
			Username:    r.Header.Get(HeaderUsername),
			Email:       r.Header.Get(HeaderEmail),
			DisplayName: r.Header.Get(HeaderDisplayName),
			Roles:       parseRoles(r.Header.Get(HeaderRoles)),
		}
	default:
		return nil, http.StatusForbidden, "unknown user"
	}

	withRequestAttributes(r, &id)
	return &id, http.StatusOK, ""
}

func (m *Middleware) resolveToken(r *http.Request, raw string) (*Identity, int, string) {
	id, err := m.tokens.Verify(r.Context(), raw)
	if err != nil {
		return nil, http.StatusUnauthorized, "invalid bearer token"
	}
	if m.directory != nil {
		if entry, found := m.directory.Lookup(id.UserID); found {
			id = entry
		}
	}

	withRequestAttributes(r, &id)
	return &id, http.StatusOK, ""
}

func withRequestAttributes(r *http.Request, id *Identity) {
	id.IPAddress = ClientIP(r)
	id.SessionID = r.Header.Get(HeaderSessionID)
	if rawCourse := r.Header.Get(HeaderCourseID); rawCourse != "" {
		if courseID, err := strconv.ParseInt(rawCourse, 10, 64); err == nil {
			id.CourseID = courseID
		}
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func parseRoles(s string) []Role {
	var roles []Role
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			roles = append(roles, Role(strings.ToLower(part)))
		}
	}
	return roles
}

// ClientIP extracts the originating client address from the request
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
