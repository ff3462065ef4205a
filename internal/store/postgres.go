package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hamisB/reportrunner/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *PostgresStore) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, account_id, created_at, updated_at FROM tenants WHERE name = 'default' LIMIT 1`,
	).Scan(&t.ID, &t.Name, &t.AccountID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default tenant: %w", err)
	}
	return &t, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- Report Jobs ---

func (s *PostgresStore) CreateReportJob(ctx context.Context, job *models.ReportJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO report_jobs (id, tenant_id, params, status, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.TenantID, job.Params, job.Status, job.Attempts, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create report job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReportJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.ReportJob, error) {
	var j models.ReportJob
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, params, status, attempts, error_message, started_at, completed_at, created_at, updated_at
		 FROM report_jobs WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&j.ID, &j.TenantID, &j.Params, &j.Status, &j.Attempts, &j.ErrorMessage,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) ListReportJobs(ctx context.Context, tenantID uuid.UUID, page, limit int) ([]*models.ReportJob, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM report_jobs WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count report jobs: %w", err)
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, params, status, attempts, error_message, started_at, completed_at, created_at, updated_at
		 FROM report_jobs WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		tenantID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list report jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ReportJob
	for rows.Next() {
		var j models.ReportJob
		if err := rows.Scan(&j.ID, &j.TenantID, &j.Params, &j.Status, &j.Attempts, &j.ErrorMessage,
			&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan report job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, total, rows.Err()
}

var validTransitions = map[string][]string{
	models.ReportJobStatusPending: {models.ReportJobStatusRunning, models.ReportJobStatusFailed},
	// running -> running records a restart of the remote run (attempts bump).
	models.ReportJobStatusRunning: {models.ReportJobStatusRunning, models.ReportJobStatusCompleted, models.ReportJobStatusFailed},
}

func (s *PostgresStore) UpdateReportJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM report_jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get report job status: %w", err)
	}

	valid := false
	for _, a := range validTransitions[currentStatus] {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid report job status transition: %s -> %s", currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE report_jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status == models.ReportJobStatusRunning {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status == models.ReportJobStatusCompleted || status == models.ReportJobStatusFailed {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.Attempts != nil {
		query += fmt.Sprintf(", attempts = $%d", argIdx)
		args = append(args, *params.Attempts)
		argIdx++
	}

	query += " WHERE id = $1"

	_, err = s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update report job status: %w", err)
	}
	return nil
}

// --- Report Results ---

func (s *PostgresStore) CreateReportResult(ctx context.Context, result *models.ReportResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO report_results (job_id, row_data, row_count, created_at)
		 VALUES ($1, $2, $3, $4)`,
		result.JobID, result.Rows, result.RowCount, result.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create report result: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReportResultByJobID(ctx context.Context, jobID uuid.UUID) (*models.ReportResult, error) {
	var r models.ReportResult
	err := s.pool.QueryRow(ctx,
		`SELECT job_id, row_data, row_count, created_at FROM report_results WHERE job_id = $1`, jobID,
	).Scan(&r.JobID, &r.Rows, &r.RowCount, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report result by job: %w", err)
	}
	return &r, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
