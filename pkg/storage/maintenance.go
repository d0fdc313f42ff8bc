package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jmoiron/sqlx"
)

// Tenant database and role names derive from validated DNS labels, and
// generated passwords are alphanumeric. Both are re-checked here because
// CREATE ROLE and CREATE DATABASE take no bind parameters.
var (
	tenantNameRe     = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
	tenantPasswordRe = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// Maintenance issues role and database DDL against the tenant cluster's
// maintenance database. Implements provision.MaintenanceDB.
type Maintenance struct {
	db *sqlx.DB
}

// NewMaintenance opens a small pool against the maintenance database,
// typically "postgres" on the tenant cluster.
func NewMaintenance(ctx context.Context, dsn string) (*Maintenance, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to maintenance database: %w", err)
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Maintenance{db: db}, nil
}

// NewMaintenanceFromDB wraps an existing handle. Used by tests.
func NewMaintenanceFromDB(db *sql.DB) *Maintenance {
	return &Maintenance{db: sqlx.NewDb(db, "pgx")}
}

// Close closes the connection pool.
func (m *Maintenance) Close() error {
	return m.db.Close()
}

// DatabaseExists reports whether a database with the given name exists.
func (m *Maintenance) DatabaseExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := m.db.QueryRowContext(ctx, `SELECT 1 FROM pg_database WHERE datname = $1`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query pg_database: %w", err)
	}
	return true, nil
}

// EnsureRole creates the login role if it is missing and asserts its
// password either way. A crash between role creation and first use can
// leave the stored password unapplied; re-asserting converges it.
func (m *Maintenance) EnsureRole(ctx context.Context, name, password string) error {
	if !tenantNameRe.MatchString(name) {
		return fmt.Errorf("invalid role name %q", name)
	}
	if !tenantPasswordRe.MatchString(password) {
		return fmt.Errorf("role password contains characters outside the generated alphabet")
	}

	var one int
	err := m.db.QueryRowContext(ctx, `SELECT 1 FROM pg_roles WHERE rolname = $1`, name).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		stmt := fmt.Sprintf(`CREATE ROLE %s LOGIN PASSWORD '%s'`, pgx.Identifier{name}.Sanitize(), password)
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create role %s: %w", name, err)
		}
	case err != nil:
		return fmt.Errorf("failed to query pg_roles: %w", err)
	default:
		stmt := fmt.Sprintf(`ALTER ROLE %s WITH LOGIN PASSWORD '%s'`, pgx.Identifier{name}.Sanitize(), password)
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to alter role %s: %w", name, err)
		}
	}
	return nil
}

// CreateDatabase creates a database owned by the given role. CREATE
// DATABASE cannot run inside a transaction; callers probe
// DatabaseExists first.
func (m *Maintenance) CreateDatabase(ctx context.Context, name, owner string) error {
	if !tenantNameRe.MatchString(name) {
		return fmt.Errorf("invalid database name %q", name)
	}
	if !tenantNameRe.MatchString(owner) {
		return fmt.Errorf("invalid owner name %q", owner)
	}

	stmt := fmt.Sprintf(`CREATE DATABASE %s OWNER %s`,
		pgx.Identifier{name}.Sanitize(), pgx.Identifier{owner}.Sanitize())
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create database %s: %w", name, err)
	}
	return nil
}
