package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresDirectory struct {
	db DB
}

func NewPostgresDirectory(db DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) GetProject(ctx context.Context, id string) (*Project, error) {
	query := `SELECT id, organization_id FROM projects WHERE id = $1`

	var p Project
	if err := d.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.OrganizationID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

func (d *PostgresDirectory) FirstProject(ctx context.Context, organizationID string) (*Project, error) {
	query := `
		SELECT id, organization_id
		FROM projects
		WHERE organization_id = $1
		ORDER BY created_at, id
		LIMIT 1
	`

	var p Project
	if err := d.db.QueryRow(ctx, query, organizationID).Scan(&p.ID, &p.OrganizationID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get first project: %w", err)
	}
	return &p, nil
}

func (d *PostgresDirectory) IsMember(ctx context.Context, userID, organizationID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM members WHERE user_id = $1 AND organization_id = $2)`

	var ok bool
	if err := d.db.QueryRow(ctx, query, userID, organizationID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return ok, nil
}

func (d *PostgresDirectory) LastActive(ctx context.Context, userID string) (string, string, error) {
	query := `
		SELECT COALESCE(last_active_project_id, ''), COALESCE(last_active_organization_id, '')
		FROM users
		WHERE id = $1
	`

	var projectID, orgID string
	if err := d.db.QueryRow(ctx, query, userID).Scan(&projectID, &orgID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", ErrNotFound
		}
		return "", "", fmt.Errorf("failed to get last active tenant: %w", err)
	}
	return projectID, orgID, nil
}

func (d *PostgresDirectory) FirstMembership(ctx context.Context, userID string) (string, error) {
	query := `
		SELECT organization_id
		FROM members
		WHERE user_id = $1
		ORDER BY created_at, id
		LIMIT 1
	`

	var orgID string
	if err := d.db.QueryRow(ctx, query, userID).Scan(&orgID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get first membership: %w", err)
	}
	return orgID, nil
}
