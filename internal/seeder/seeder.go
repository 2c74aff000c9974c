package seeder

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/agusgarcia3007/LLM-moonitor/internal/auth"
)

const (
	TestUserID         = "00000000-0000-0000-0000-000000000001"
	TestOrganizationID = "00000000-0000-0000-0000-000000000002"
	TestProjectID      = "00000000-0000-0000-0000-000000000003"
	testMemberID       = "00000000-0000-0000-0000-000000000004"
	TestUserEmail      = "dev@moonitor.local"
)

type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SeedDevTenant creates a user who owns one organization with one project
// and returns a session token for them. Existing rows are left untouched.
func SeedDevTenant(ctx context.Context, db DB, secret string) (string, error) {
	err := pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		statements := []struct {
			sql  string
			args []any
		}{
			{`INSERT INTO organizations (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
				[]any{TestOrganizationID, "Dev Organization"}},
			{`INSERT INTO users (id, email, last_active_organization_id) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
				[]any{TestUserID, TestUserEmail, TestOrganizationID}},
			{`INSERT INTO members (id, user_id, organization_id, role) VALUES ($1, $2, $3, 'owner') ON CONFLICT DO NOTHING`,
				[]any{testMemberID, TestUserID, TestOrganizationID}},
			{`INSERT INTO projects (id, organization_id, name) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
				[]any{TestProjectID, TestOrganizationID, "Default Project"}},
		}
		for _, s := range statements {
			if _, err := tx.Exec(ctx, s.sql, s.args...); err != nil {
				return fmt.Errorf("failed to seed dev tenant: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	token, err := auth.IssueToken(auth.Session{
		UserID:               TestUserID,
		ActiveOrganizationID: TestOrganizationID,
		ActiveProjectID:      TestProjectID,
	}, secret, 30*24*time.Hour)
	if err != nil {
		return "", err
	}

	log.Info().
		Str("user_id", TestUserID).
		Str("organization_id", TestOrganizationID).
		Str("project_id", TestProjectID).
		Msg("[Seeder] dev tenant ready")
	return token, nil
}
