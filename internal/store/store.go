package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/hamisB/reportrunner/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	CreateReportJob(ctx context.Context, job *models.ReportJob) error
	GetReportJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.ReportJob, error)
	ListReportJobs(ctx context.Context, tenantID uuid.UUID, page, limit int) ([]*models.ReportJob, int, error)
	UpdateReportJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error

	CreateReportResult(ctx context.Context, result *models.ReportResult) error
	GetReportResultByJobID(ctx context.Context, jobID uuid.UUID) (*models.ReportResult, error)
}

type jobUpdateParams struct {
	ErrorMessage *string
	Attempts     *int
}

type JobUpdateOption func(*jobUpdateParams)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithAttempts(n int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Attempts = &n
	}
}
