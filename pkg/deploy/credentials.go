package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/3leaps/deploybot/pkg/jenkins"
	"github.com/3leaps/deploybot/pkg/jobstore"
)

// ErrNoCredentials indicates the user's role has no credential set.
var ErrNoCredentials = errors.New("no credentials for role")

// IsNoCredentials returns true if err indicates a role without credentials.
func IsNoCredentials(err error) bool {
	return errors.Is(err, ErrNoCredentials)
}

// RoleLookup returns the role assigned to a user.
//
// *jobstore.Store satisfies RoleLookup.
type RoleLookup interface {
	GetUserRole(ctx context.Context, userID int64) (string, error)
}

// Resolver maps chat users to CI credential sets through their role.
type Resolver struct {
	roles       RoleLookup
	sets        map[string]jenkins.Credentials
	defaultRole string
}

// NewResolver creates a Resolver. Users without a stored role use
// defaultRole.
func NewResolver(roles RoleLookup, sets map[string]jenkins.Credentials, defaultRole string) *Resolver {
	normalized := make(map[string]jenkins.Credentials, len(sets))
	for role, creds := range sets {
		normalized[strings.ToLower(strings.TrimSpace(role))] = creds
	}
	return &Resolver{
		roles:       roles,
		sets:        normalized,
		defaultRole: strings.ToLower(strings.TrimSpace(defaultRole)),
	}
}

// Resolve returns the role and credentials of userID.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (string, jenkins.Credentials, error) {
	role := r.defaultRole
	if r.roles != nil {
		stored, err := r.roles.GetUserRole(ctx, userID)
		switch {
		case err == nil:
			role = strings.ToLower(strings.TrimSpace(stored))
		case jobstore.IsNotFound(err):
		default:
			return "", jenkins.Credentials{}, fmt.Errorf("lookup role of user %d: %w", userID, err)
		}
	}

	creds, ok := r.sets[role]
	if !ok || creds.Empty() {
		return role, jenkins.Credentials{}, fmt.Errorf("role %q: %w", role, ErrNoCredentials)
	}
	return role, creds, nil
}

// Roles returns the configured role names.
func (r *Resolver) Roles() []string {
	out := make([]string, 0, len(r.sets))
	for role := range r.sets {
		out = append(out, role)
	}
	return out
}
