package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/hamisB/reportrunner/internal/api/middleware"
	"github.com/hamisB/reportrunner/internal/api/response"
	"github.com/hamisB/reportrunner/internal/cache"
	"github.com/hamisB/reportrunner/internal/insights"
	"github.com/hamisB/reportrunner/internal/store"
	"github.com/hamisB/reportrunner/pkg/models"
)

const dateLayout = "2006-01-02"

var validLevels = map[string]bool{
	"account":  true,
	"campaign": true,
	"ad":       true,
}

// ReportSubmitter defines the interface the create handler depends on.
type ReportSubmitter interface {
	SubmitReport(ctx context.Context, tenantID uuid.UUID, params insights.ReportParams) (*models.ReportJob, error)
}

// NewCreateReportHandler returns an http.HandlerFunc for POST /api/v1/reports.
func NewCreateReportHandler(svc ReportSubmitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		var req struct {
			Level      string   `json:"level"`
			Since      string   `json:"since"`
			Until      string   `json:"until"`
			Breakdowns []string `json:"breakdowns"`
			Metrics    []string `json:"metrics"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		level := req.Level
		if level == "" {
			level = "account"
		}
		if !validLevels[level] {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"level must be one of account, campaign, ad", nil)
			return
		}

		if req.Since == "" || req.Until == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "since and until are required", nil)
			return
		}
		since, err := time.Parse(dateLayout, req.Since)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "since must be a YYYY-MM-DD date", nil)
			return
		}
		until, err := time.Parse(dateLayout, req.Until)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "until must be a YYYY-MM-DD date", nil)
			return
		}
		if until.Before(since) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "until must not precede since", nil)
			return
		}

		if len(req.Metrics) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "at least one metric is required", nil)
			return
		}

		job, err := svc.SubmitReport(r.Context(), tenantID, insights.ReportParams{
			Level:      level,
			TimeRange:  insights.TimeRange{Since: req.Since, Until: req.Until},
			Breakdowns: req.Breakdowns,
			Metrics:    req.Metrics,
		})
		if err != nil {
			response.Error(w, http.StatusServiceUnavailable, "SUBMIT_FAILED",
				"Could not accept the report job", nil)
			return
		}

		response.Accepted(w, job)
	}
}

// NewGetReportJobHandler returns an http.HandlerFunc for GET /api/v1/reports/{jobID}.
// The status answer is served from Redis when fresh, falling back to Postgres
// for the full job record.
func NewGetReportJobHandler(st store.Store, ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a UUID", nil)
			return
		}

		job, err := st.GetReportJob(r.Context(), jobID, tenantID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "No such report job", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		// The cache may be ahead of the row read above; prefer it.
		if status, found, _ := ca.GetJobStatus(r.Context(), jobID); found {
			job.Status = status
		}

		response.JSON(w, job)
	}
}

// NewGetReportResultHandler returns an http.HandlerFunc for
// GET /api/v1/reports/{jobID}/result.
func NewGetReportResultHandler(st store.Store, ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a UUID", nil)
			return
		}

		job, err := st.GetReportJob(r.Context(), jobID, tenantID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "No such report job", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		switch job.Status {
		case models.ReportJobStatusFailed:
			response.Error(w, http.StatusGone, "REPORT_FAILED", "The report run failed; no result exists", nil)
			return
		case models.ReportJobStatusPending, models.ReportJobStatusRunning:
			response.Error(w, http.StatusConflict, "REPORT_NOT_READY", "The report is still running", nil)
			return
		}

		// Completed: cached rows first, then Postgres.
		if raw, found, _ := ca.Get(r.Context(), cache.ResultKey(jobID)); found {
			response.JSON(w, resultPayload{JobID: jobID, Rows: raw, RowCount: countRows(raw)})
			return
		}

		result, err := st.GetReportResultByJobID(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RESULT_NOT_FOUND", "Result rows are not available", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.JSON(w, resultPayload{JobID: result.JobID, Rows: result.Rows, RowCount: result.RowCount})
	}
}

// NewListReportJobsHandler returns an http.HandlerFunc for GET /api/v1/reports.
func NewListReportJobsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		page := queryInt(r, "page", 1)
		limit := queryInt(r, "limit", 20)

		jobs, total, err := st.ListReportJobs(r.Context(), tenantID, page, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		if jobs == nil {
			jobs = []*models.ReportJob{}
		}

		response.Collection(w, jobs, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

type resultPayload struct {
	JobID    uuid.UUID       `json:"job_id"`
	Rows     json.RawMessage `json:"rows"`
	RowCount int             `json:"row_count"`
}

func countRows(raw []byte) int {
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return 0
	}
	return len(rows)
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}
