package insights

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// BatchRequest is one deferred operation inside a POST /v1/batch call.
type BatchRequest struct {
	Method      string `json:"method"`
	RelativeURL string `json:"relative_url"`
}

// BatchResponse is one element of a batch response, positionally matched to
// the request that produced it.
type BatchResponse struct {
	Code int             `json:"code"`
	Body json.RawMessage `json:"body"`
}

type batchEnvelope struct {
	Requests []BatchRequest `json:"requests"`
}

type batchResponseEnvelope struct {
	Responses []BatchResponse `json:"responses"`
}

// StatusRequest builds the deferred status-check request for a run, suitable
// for merging into a multi-run batch call.
func StatusRequest(run *ReportRun) BatchRequest {
	return BatchRequest{
		Method:      http.MethodGet,
		RelativeURL: fmt.Sprintf("v1/reports/%s", url.PathEscape(run.ID)),
	}
}

// runPatch mirrors ReportRun with pointer fields so MergeRun can tell an
// absent field from a zero value.
type runPatch struct {
	ID              *string `json:"report_run_id"`
	Status          *string `json:"status"`
	PercentComplete *int    `json:"percent_complete"`
	RowCount        *int    `json:"row_count"`
}

// MergeRun produces a new ReportRun from a prior snapshot and one batch
// response element. Fields absent from the response are retained from prior;
// neither input is mutated.
func MergeRun(prior *ReportRun, resp BatchResponse) (*ReportRun, error) {
	if err := classifyStatus(resp.Code, http.StatusOK); err != nil {
		return nil, err
	}

	var patch runPatch
	if err := json.Unmarshal(resp.Body, &patch); err != nil {
		return nil, fmt.Errorf("decoding batch element: %w", err)
	}

	merged := *prior
	if patch.ID != nil {
		merged.ID = *patch.ID
	}
	if patch.Status != nil {
		merged.Status = *patch.Status
	}
	if patch.PercentComplete != nil {
		merged.PercentComplete = *patch.PercentComplete
	}
	if patch.RowCount != nil {
		merged.RowCount = *patch.RowCount
	}
	return &merged, nil
}
