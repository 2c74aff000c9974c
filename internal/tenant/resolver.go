// Package tenant resolves which project an incoming event or query belongs to
// and checks that the caller may act on it.
package tenant

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrForbidden       = errors.New("user is not a member of this project's organization")
	ErrMissingTenant   = errors.New("projectId is required")
	ErrProjectNotFound = errors.New("project not found")

	// ErrNotFound is returned by a Directory for an unknown id.
	ErrNotFound = errors.New("not found")
)

// Context carries every tenant hint available for one request. Session
// fields are empty for unauthenticated callers.
type Context struct {
	UserID                 string
	SessionOrganizationID  string
	SessionProjectID       string
	ExplicitProjectID      string
	ExplicitOrganizationID string
}

func (c Context) Authenticated() bool { return c.UserID != "" }

type Resolution struct {
	ProjectID      string
	OrganizationID string
	// Source names the hint that produced the project, for logging.
	Source string
}

type Project struct {
	ID             string
	OrganizationID string
}

type Directory interface {
	GetProject(ctx context.Context, id string) (*Project, error)
	// FirstProject returns the oldest project of an organization.
	FirstProject(ctx context.Context, organizationID string) (*Project, error)
	IsMember(ctx context.Context, userID, organizationID string) (bool, error)
	// LastActive returns the persisted last-active project and organization
	// ids of a user; either may be empty.
	LastActive(ctx context.Context, userID string) (projectID, organizationID string, err error)
	// FirstMembership returns the organization of the user's oldest membership.
	FirstMembership(ctx context.Context, userID string) (string, error)
}

type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve picks the first hint present in this order: explicit project id,
// explicit organization id, session project, session organization. Without
// any hint an authenticated user falls back to their last-active project,
// the first project of their last-active organization, then the first
// project of their first membership. Authenticated callers must be members
// of the resolved project's organization.
func (r *Resolver) Resolve(ctx context.Context, tc Context) (*Resolution, error) {
	hints := []struct {
		source string
		id     string
	}{
		{"explicit_project", tc.ExplicitProjectID},
		{"explicit_organization", tc.ExplicitOrganizationID},
		{"session_project", tc.SessionProjectID},
		{"session_organization", tc.SessionOrganizationID},
	}

	var (
		project *Project
		source  string
		err     error
	)
	for _, h := range hints {
		if h.id == "" {
			continue
		}
		source = h.source
		project, err = r.lookup(ctx, h.id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				if tc.Authenticated() {
					return nil, ErrForbidden
				}
				return nil, ErrProjectNotFound
			}
			return nil, err
		}
		break
	}

	if project == nil {
		if !tc.Authenticated() {
			return nil, ErrMissingTenant
		}
		project, source, err = r.fallback(ctx, tc.UserID)
		if err != nil {
			return nil, err
		}
		if project == nil {
			return nil, ErrMissingTenant
		}
	}

	if tc.Authenticated() {
		ok, err := r.dir.IsMember(ctx, tc.UserID, project.OrganizationID)
		if err != nil {
			return nil, fmt.Errorf("failed to check membership: %w", err)
		}
		if !ok {
			return nil, ErrForbidden
		}
	}

	return &Resolution{ProjectID: project.ID, OrganizationID: project.OrganizationID, Source: source}, nil
}

// lookup treats id as a project id first and as an organization id second.
func (r *Resolver) lookup(ctx context.Context, id string) (*Project, error) {
	p, err := r.dir.GetProject(ctx, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	p, err = r.dir.FirstProject(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization project: %w", err)
	}
	return p, nil
}

func (r *Resolver) fallback(ctx context.Context, userID string) (*Project, string, error) {
	projectID, orgID, err := r.dir.LastActive(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, "", fmt.Errorf("failed to get last active tenant: %w", err)
	}

	if projectID != "" {
		p, err := r.dir.GetProject(ctx, projectID)
		if err == nil {
			return p, "last_active_project", nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, "", fmt.Errorf("failed to get project: %w", err)
		}
	}

	if orgID != "" {
		p, err := r.dir.FirstProject(ctx, orgID)
		if err == nil {
			return p, "last_active_organization", nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, "", fmt.Errorf("failed to get organization project: %w", err)
		}
	}

	orgID, err = r.dir.FirstMembership(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("failed to get first membership: %w", err)
	}
	p, err := r.dir.FirstProject(ctx, orgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("failed to get organization project: %w", err)
	}
	return p, "first_membership", nil
}
