package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/xcord/hub/pkg/ids"
	"github.com/xcord/hub/pkg/types"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store using Postgres via sqlx.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore opens a connection pool against the control-plane
// database and verifies connectivity.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle. Used by tests.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(db, "pgx")}
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool for migrations and health checks.
func (s *PostgresStore) DB() *sqlx.DB {
	return s.db
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Instance operations

func (s *PostgresStore) CreateInstance(ctx context.Context, instance *types.ManagedInstance) error {
	if instance.ID == 0 {
		instance.ID = ids.Next()
	}
	now := time.Now().UTC()
	instance.CreatedAt = now
	instance.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO managed_instances (id, owner_id, domain, display_name, status, worker_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		instance.ID, instance.OwnerID, instance.Domain, instance.DisplayName,
		instance.Status, instance.WorkerID, instance.CreatedAt, instance.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("domain %s: %w", instance.Domain, ErrDomainTaken)
	}
	if err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInstance(ctx context.Context, id int64) (*types.ManagedInstance, error) {
	var instance types.ManagedInstance
	err := s.db.GetContext(ctx, &instance,
		`SELECT * FROM managed_instances WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instance %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return &instance, nil
}

func (s *PostgresStore) GetLiveInstanceByDomain(ctx context.Context, domain string) (*types.ManagedInstance, error) {
	var instance types.ManagedInstance
	err := s.db.GetContext(ctx, &instance,
		`SELECT * FROM managed_instances WHERE domain = $1 AND deleted_at IS NULL`, domain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instance %s: %w", domain, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance by domain: %w", err)
	}
	return &instance, nil
}

func (s *PostgresStore) ListInstances(ctx context.Context) ([]*types.ManagedInstance, error) {
	var instances []*types.ManagedInstance
	err := s.db.SelectContext(ctx, &instances,
		`SELECT * FROM managed_instances ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return instances, nil
}

func (s *PostgresStore) ListInstancesByStatus(ctx context.Context, status types.InstanceStatus) ([]*types.ManagedInstance, error) {
	var instances []*types.ManagedInstance
	err := s.db.SelectContext(ctx, &instances,
		`SELECT * FROM managed_instances WHERE status = $1 AND deleted_at IS NULL ORDER BY created_at ASC`,
		status)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances by status: %w", err)
	}
	return instances, nil
}

func (s *PostgresStore) OldestInstanceWithStatus(ctx context.Context, status types.InstanceStatus) (*types.ManagedInstance, error) {
	var instance types.ManagedInstance
	err := s.db.GetContext(ctx, &instance, `
		SELECT * FROM managed_instances
		WHERE status = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC
		LIMIT 1`,
		status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to probe queue: %w", err)
	}
	return &instance, nil
}

func (s *PostgresStore) CountLiveInstancesByOwner(ctx context.Context, ownerID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM managed_instances
		WHERE owner_id = $1 AND deleted_at IS NULL AND status != $2`,
		ownerID, types.InstanceStatusDestroyed)
	if err != nil {
		return 0, fmt.Errorf("failed to count instances for owner %d: %w", ownerID, err)
	}
	return count, nil
}

func (s *PostgresStore) UpdateInstanceStatus(ctx context.Context, id int64, status types.InstanceStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE managed_instances SET status = $2, updated_at = now()
		WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("failed to update instance status: %w", err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) SetInstanceWorkerID(ctx context.Context, id, workerID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE managed_instances SET worker_id = $2, updated_at = now()
		WHERE id = $1`,
		id, workerID)
	if err != nil {
		return fmt.Errorf("failed to set instance worker ID: %w", err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) MarkInstanceDestroyed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE managed_instances
		SET status = $2, deleted_at = now(), updated_at = now()
		WHERE id = $1`,
		id, types.InstanceStatusDestroyed)
	if err != nil {
		return fmt.Errorf("failed to mark instance destroyed: %w", err)
	}
	return requireRow(res, id)
}

// requireRow converts a zero-row UPDATE into ErrNotFound.
func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("instance %d: %w", id, ErrNotFound)
	}
	return nil
}

// Infrastructure operations

func (s *PostgresStore) CreateInfrastructure(ctx context.Context, infra *types.InstanceInfrastructure) error {
	if infra.ID == 0 {
		infra.ID = ids.Next()
	}
	now := time.Now().UTC()
	infra.CreatedAt = now
	infra.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO instance_infrastructure (
			id, instance_id, container_id, network_id, secret_id, proxy_route_id,
			db_name, db_password, redis_db,
			storage_access_key, storage_secret_key, storage_root_fallback,
			media_api_key, media_secret_key,
			bootstrap_token_hash, instance_kek, created_at, updated_at
		) VALUES (
			:id, :instance_id, :container_id, :network_id, :secret_id, :proxy_route_id,
			:db_name, :db_password, :redis_db,
			:storage_access_key, :storage_secret_key, :storage_root_fallback,
			:media_api_key, :media_secret_key,
			:bootstrap_token_hash, :instance_kek, :created_at, :updated_at
		)`, infra)
	if err != nil {
		return fmt.Errorf("failed to create infrastructure record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInfrastructure(ctx context.Context, instanceID int64) (*types.InstanceInfrastructure, error) {
	var infra types.InstanceInfrastructure
	err := s.db.GetContext(ctx, &infra,
		`SELECT * FROM instance_infrastructure WHERE instance_id = $1`, instanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("infrastructure for instance %d: %w", instanceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get infrastructure record: %w", err)
	}
	return &infra, nil
}

func (s *PostgresStore) UpdateInfrastructure(ctx context.Context, infra *types.InstanceInfrastructure) error {
	infra.UpdatedAt = time.Now().UTC()
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE instance_infrastructure SET
			container_id = :container_id,
			network_id = :network_id,
			secret_id = :secret_id,
			proxy_route_id = :proxy_route_id,
			db_name = :db_name,
			db_password = :db_password,
			redis_db = :redis_db,
			storage_access_key = :storage_access_key,
			storage_secret_key = :storage_secret_key,
			storage_root_fallback = :storage_root_fallback,
			media_api_key = :media_api_key,
			media_secret_key = :media_secret_key,
			bootstrap_token_hash = :bootstrap_token_hash,
			instance_kek = :instance_kek,
			updated_at = :updated_at
		WHERE instance_id = :instance_id`, infra)
	if err != nil {
		return fmt.Errorf("failed to update infrastructure record: %w", err)
	}
	return requireRow(res, infra.InstanceID)
}

func (s *PostgresStore) ClearBootstrapToken(ctx context.Context, instanceID int64, expectedHash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE instance_infrastructure
		SET bootstrap_token_hash = NULL, updated_at = now()
		WHERE instance_id = $1 AND bootstrap_token_hash = $2`,
		instanceID, expectedHash)
	if err != nil {
		return false, fmt.Errorf("failed to clear bootstrap token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to clear bootstrap token: %w", err)
	}
	return n == 1, nil
}

// Billing operations

func (s *PostgresStore) CreateBilling(ctx context.Context, billing *types.InstanceBilling) error {
	if billing.ID == 0 {
		billing.ID = ids.Next()
	}
	now := time.Now().UTC()
	billing.CreatedAt = now
	billing.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO instance_billing (
			id, instance_id, feature_tier, user_count_tier, hd_upgrade,
			status, period_end, subscription_ref, price_ref, created_at, updated_at
		) VALUES (
			:id, :instance_id, :feature_tier, :user_count_tier, :hd_upgrade,
			:status, :period_end, :subscription_ref, :price_ref, :created_at, :updated_at
		)`, billing)
	if err != nil {
		return fmt.Errorf("failed to create billing record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBilling(ctx context.Context, instanceID int64) (*types.InstanceBilling, error) {
	var billing types.InstanceBilling
	err := s.db.GetContext(ctx, &billing,
		`SELECT * FROM instance_billing WHERE instance_id = $1`, instanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("billing for instance %d: %w", instanceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing record: %w", err)
	}
	return &billing, nil
}

func (s *PostgresStore) UpdateBilling(ctx context.Context, billing *types.InstanceBilling) error {
	billing.UpdatedAt = time.Now().UTC()
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE instance_billing SET
			feature_tier = :feature_tier,
			user_count_tier = :user_count_tier,
			hd_upgrade = :hd_upgrade,
			status = :status,
			period_end = :period_end,
			subscription_ref = :subscription_ref,
			price_ref = :price_ref,
			updated_at = :updated_at
		WHERE instance_id = :instance_id`, billing)
	if err != nil {
		return fmt.Errorf("failed to update billing record: %w", err)
	}
	return requireRow(res, billing.InstanceID)
}

// Config operations

func (s *PostgresStore) CreateConfig(ctx context.Context, cfg *types.InstanceConfig) error {
	if cfg.ID == 0 {
		cfg.ID = ids.Next()
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	cfg.UpdatedAt = time.Now().UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO instance_configs (
			id, instance_id, config_json, resource_limits_json, feature_flags_json, version, updated_at
		) VALUES (
			:id, :instance_id, :config_json, :resource_limits_json, :feature_flags_json, :version, :updated_at
		)`, cfg)
	if err != nil {
		return fmt.Errorf("failed to create config record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConfig(ctx context.Context, instanceID int64) (*types.InstanceConfig, error) {
	var cfg types.InstanceConfig
	err := s.db.GetContext(ctx, &cfg,
		`SELECT * FROM instance_configs WHERE instance_id = $1`, instanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("config for instance %d: %w", instanceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config record: %w", err)
	}
	return &cfg, nil
}

func (s *PostgresStore) UpdateConfig(ctx context.Context, cfg *types.InstanceConfig) error {
	cfg.UpdatedAt = time.Now().UTC()
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE instance_configs SET
			config_json = :config_json,
			resource_limits_json = :resource_limits_json,
			feature_flags_json = :feature_flags_json,
			version = :version,
			updated_at = :updated_at
		WHERE instance_id = :instance_id`, cfg)
	if err != nil {
		return fmt.Errorf("failed to update config record: %w", err)
	}
	return requireRow(res, cfg.InstanceID)
}

// Worker ID registry operations

// AllocateWorkerID hands out the lowest worker ID in the instance range
// that has never been allocated. Already-allocated instances get their
// existing ID back. Concurrent allocations racing for the same candidate
// are resolved by the primary key: the loser retries with the next gap.
func (s *PostgresStore) AllocateWorkerID(ctx context.Context, instanceID int64) (int64, error) {
	// Idempotence: a registry row for this instance wins over a fresh scan.
	existing, err := s.GetWorkerIDAllocation(ctx, instanceID)
	if err == nil {
		return existing.WorkerID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	for attempt := 0; attempt < 5; attempt++ {
		var candidate int64
		err := s.db.GetContext(ctx, &candidate, `
			SELECT candidate FROM generate_series($1::bigint, $2::bigint) AS candidate
			WHERE candidate NOT IN (SELECT worker_id FROM worker_id_registry)
			ORDER BY candidate ASC
			LIMIT 1`,
			types.MinInstanceWorkerID, types.MaxWorkerID)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrWorkerIDsExhausted
		}
		if err != nil {
			return 0, fmt.Errorf("failed to scan worker ID registry: %w", err)
		}

		_, err = s.db.ExecContext(ctx, `
			INSERT INTO worker_id_registry (worker_id, instance_id, is_tombstoned, allocated_at)
			VALUES ($1, $2, FALSE, now())`,
			candidate, instanceID)
		if isUniqueViolation(err) {
			continue // lost the race, rescan
		}
		if err != nil {
			return 0, fmt.Errorf("failed to insert worker ID allocation: %w", err)
		}
		return candidate, nil
	}

	return 0, fmt.Errorf("failed to allocate worker ID for instance %d after repeated conflicts", instanceID)
}

func (s *PostgresStore) GetWorkerIDAllocation(ctx context.Context, instanceID int64) (*types.WorkerIDAllocation, error) {
	var alloc types.WorkerIDAllocation
	err := s.db.GetContext(ctx, &alloc, `
		SELECT * FROM worker_id_registry
		WHERE instance_id = $1 AND is_tombstoned = FALSE`,
		instanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("worker ID allocation for instance %d: %w", instanceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker ID allocation: %w", err)
	}
	return &alloc, nil
}

// TombstoneWorkerID permanently retires the instance's worker ID. Missing
// allocations are fine: destruction of a partially provisioned instance
// may never have reached AllocateWorkerId.
func (s *PostgresStore) TombstoneWorkerID(ctx context.Context, instanceID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE worker_id_registry
		SET is_tombstoned = TRUE, released_at = now()
		WHERE instance_id = $1 AND is_tombstoned = FALSE`,
		instanceID)
	if err != nil {
		return fmt.Errorf("failed to tombstone worker ID: %w", err)
	}
	return nil
}

// Provisioning event operations

func (s *PostgresStore) InsertEvent(ctx context.Context, event *types.ProvisioningEvent) error {
	if event.ID == 0 {
		event.ID = ids.Next()
	}
	if event.StartedAt.IsZero() {
		event.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provisioning_events (id, instance_id, pipeline, step_name, phase, status, error_message, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.InstanceID, event.Pipeline, event.StepName,
		event.Phase, event.Status, event.ErrorMessage, event.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// CompleteEvent finishes the row started by this attempt. Only the row
// captured at insert time is updated; parallel history stays untouched.
func (s *PostgresStore) CompleteEvent(ctx context.Context, eventID int64, status types.EventStatus, errorMessage *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE provisioning_events
		SET status = $2, error_message = $3, completed_at = now()
		WHERE id = $1`,
		eventID, status, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to complete event: %w", err)
	}
	return requireRow(res, eventID)
}

func (s *PostgresStore) ListEvents(ctx context.Context, instanceID int64, pipeline types.PipelineKind) ([]*types.ProvisioningEvent, error) {
	var events []*types.ProvisioningEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT * FROM provisioning_events
		WHERE instance_id = $1 AND pipeline = $2
		ORDER BY started_at ASC, id ASC`,
		instanceID, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// Federation token operations

func (s *PostgresStore) CreateFederationToken(ctx context.Context, token *types.FederationToken) error {
	if token.ID == 0 {
		token.ID = ids.Next()
	}
	token.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO federation_tokens (id, instance_id, token_hash, created_at)
		VALUES ($1, $2, $3, $4)`,
		token.ID, token.InstanceID, token.TokenHash, token.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create federation token: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFederationTokenByHash(ctx context.Context, hash string) (*types.FederationToken, error) {
	var token types.FederationToken
	err := s.db.GetContext(ctx, &token, `
		SELECT * FROM federation_tokens
		WHERE token_hash = $1 AND revoked_at IS NULL`,
		hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("federation token: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get federation token: %w", err)
	}
	return &token, nil
}

func (s *PostgresStore) RevokeFederationToken(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE federation_tokens SET revoked_at = now()
		WHERE id = $1 AND revoked_at IS NULL`,
		id)
	if err != nil {
		return fmt.Errorf("failed to revoke federation token: %w", err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) TouchFederationToken(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE federation_tokens SET last_used_at = now()
		WHERE id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("failed to touch federation token: %w", err)
	}
	return requireRow(res, id)
}
