package portal

import (
	"encoding/json"
	"errors"
	"net/http"

	"bankflow/pkg/apiclient"
	"bankflow/pkg/banking"
	"bankflow/pkg/flows"
	"bankflow/pkg/form"
	"bankflow/pkg/receipt"
	"bankflow/pkg/session"
	"bankflow/pkg/wizard"

	"go.uber.org/zap"
)

// Response is the envelope of every portal answer.
type Response struct {
	Success  bool              `json:"success"`
	Data     any               `json:"data,omitempty"`
	Error    string            `json:"error,omitempty"`
	Errors   map[string]string `json:"errors,omitempty"`
	Degraded bool              `json:"degraded,omitempty"`
	Source   apiclient.Source  `json:"source,omitempty"`
	Cause    string            `json:"cause,omitempty"`
	Reauth   bool              `json:"reauth,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Success: true, Data: data, Source: apiclient.SourceServer})
}

// writeOutcome copies the degradation flags of out into the envelope.
func writeOutcome[T any](w http.ResponseWriter, out apiclient.Outcome[T]) {
	writeJSON(w, http.StatusOK, Response{
		Success:  true,
		Data:     out.Value,
		Degraded: out.Degraded,
		Source:   out.Source,
		Cause:    out.CauseMessage(),
	})
}

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	var (
		formErrs form.Errors
		apiErr   *apiclient.APIError
	)
	switch {
	case errors.As(err, &formErrs):
		return http.StatusUnprocessableEntity
	case apiclient.IsUnauthorized(err), errors.Is(err, session.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, ErrFlowNotFound),
		errors.Is(err, flows.ErrUnknownFlow),
		errors.Is(err, banking.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, wizard.ErrDone),
		errors.Is(err, wizard.ErrExited),
		errors.Is(err, wizard.ErrNotSubmitted):
		return http.StatusConflict
	case errors.Is(err, banking.ErrInvalidAmount),
		errors.Is(err, banking.ErrInsufficientFunds),
		errors.Is(err, banking.ErrAllocation),
		errors.Is(err, banking.ErrSameAccount),
		errors.Is(err, banking.ErrAccountType),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.As(err, &apiErr) && !apiErr.Temporary():
		return apiErr.Status
	case apiclient.Unreachable(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorData(w, r, err, nil)
}

// writeErrorData is writeError with a payload, used to return the
// wizard view alongside a blocked step or failed submission.
func (s *Server) writeErrorData(w http.ResponseWriter, r *http.Request, err error, data any) {
	status := statusOf(err)
	resp := Response{Error: err.Error(), Data: data}

	var formErrs form.Errors
	switch {
	case errors.As(err, &formErrs):
		resp.Error = "validation failed"
		resp.Errors = formErrs
	case status == http.StatusUnauthorized:
		resp.Error = "session expired, please sign in again"
		resp.Reauth = true
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}

// View is the JSON form of a running wizard.
type View struct {
	ID           string                `json:"id"`
	Flow         string                `json:"flow"`
	Step         int                   `json:"step"`
	StepName     string                `json:"stepName"`
	StepTitle    string                `json:"stepTitle"`
	Steps        []wizard.Step         `json:"steps"`
	Status       wizard.Status         `json:"status"`
	State        form.State            `json:"state"`
	Errors       form.Errors           `json:"errors,omitempty"`
	Summary      *receipt.Summary      `json:"summary,omitempty"`
	Confirmation *receipt.Confirmation `json:"confirmation,omitempty"`
	SubmitError  string                `json:"submitError,omitempty"`
}

// viewOf renders w. The summary is only included on the terminal step.
func viewOf(w *wizard.Wizard) View {
	steps := w.Steps()
	v := View{
		ID:     w.ID(),
		Flow:   w.Flow(),
		Step:   w.CurrentStep(),
		Steps:  steps,
		Status: w.Status(),
		State:  w.State(),
		Errors: w.Errors(),
	}
	if v.Step >= 1 && v.Step <= len(steps) {
		v.StepName = steps[v.Step-1].Name
		v.StepTitle = steps[v.Step-1].Title
	}
	if v.Step == len(steps) {
		if sum, ok := w.Summary(); ok {
			v.Summary = &sum
		}
	}
	if conf, ok := w.Confirmation(); ok {
		v.Confirmation = &conf
	}
	if err := w.SubmitErr(); err != nil {
		v.SubmitError = err.Error()
	}
	return v
}
