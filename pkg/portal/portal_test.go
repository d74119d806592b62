package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"bankflow/pkg/apiclient"
	"bankflow/pkg/flows"
	"bankflow/pkg/resilience"
	"bankflow/pkg/session"
	"bankflow/pkg/store"
	"bankflow/pkg/store/mock"
	"bankflow/pkg/wizard"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

// upstream answers every API call with a fixed status; the default 404
// makes the client serve sample data.
type upstream struct {
	status atomic.Int32
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := int(u.status.Load())
	if status == 0 {
		status = http.StatusNotFound
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": http.StatusText(status)})
}

type harness struct {
	server   *Server
	upstream *upstream
	registry *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	up := &upstream{}
	api := httptest.NewServer(up)
	t.Cleanup(api.Close)

	rc := resilience.DefaultConfig().WithTimeout(time.Second)
	rc.Breaker.ReadyToTrip = resilience.ConsecutiveFailures(1000)

	kv, err := store.NewTiered(store.TieredConfig{}, mock.New("L1"))
	require.NoError(t, err)
	sessions := session.New(kv, nil)

	svc := flows.New(flows.Config{
		Client: apiclient.New(apiclient.Config{
			BaseURL:    api.URL,
			Resilience: rc,
		}),
		Sessions: sessions,
		Now:      func() time.Time { return testNow },
	})

	reg := prometheus.NewRegistry()
	hm := NewHTTPMetrics("bankflow")
	require.NoError(t, hm.Register(reg))

	srv := New(Config{
		Flows:       svc,
		Sessions:    sessions,
		HTTPMetrics: hm,
		Gatherer:    reg,
		FlowTTL:     time.Hour,
	})
	t.Cleanup(srv.Close)

	return &harness{server: srv, upstream: up, registry: reg}
}

// do sends a request as session sid and decodes the envelope.
func (h *harness) do(t *testing.T, method, path, sid string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if sid != "" {
		req.Header.Set(SessionHeader, sid)
	}
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)

	var resp Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

// view re-decodes the envelope data as a wizard view.
func view(t *testing.T, resp Response) View {
	t.Helper()
	b, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var v View
	require.NoError(t, json.Unmarshal(b, &v))
	return v
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	rec, resp := h.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodPost, "/flows/"+flows.FlowTransfer, "s1", nil)

	_, resp := h.do(t, http.MethodGet, "/status", "", nil)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "running", data["status"])
	assert.Equal(t, float64(1), data["flows"])
}

func TestSessionHeader_GeneratedWhenMissing(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodGet, "/flows", "", nil)
	assert.NotEmpty(t, rec.Header().Get(SessionHeader), "Expected a generated session ID")

	rec, _ = h.do(t, http.MethodGet, "/flows", "abc", nil)
	assert.Equal(t, "abc", rec.Header().Get(SessionHeader))
}

func TestListFlows(t *testing.T) {
	h := newHarness(t)

	_, resp := h.do(t, http.MethodGet, "/flows", "s1", nil)

	names, ok := resp.Data.([]any)
	require.True(t, ok, "Expected a list, got %T", resp.Data)
	assert.Len(t, names, 8)
}

func TestAccounts_DegradedEnvelope(t *testing.T) {
	h := newHarness(t)

	rec, resp := h.do(t, http.MethodGet, "/accounts", "s1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.True(t, resp.Degraded, "Expected degraded response when the API is unreachable")
	assert.Equal(t, apiclient.SourceSample, resp.Source)
	assert.NotEmpty(t, resp.Cause)
	accounts, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, accounts, 4)
}

func TestAccounts_UnknownIs404(t *testing.T) {
	h := newHarness(t)

	rec, resp := h.do(t, http.MethodGet, "/accounts/nope", "s1", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
}

func TestDeposit(t *testing.T) {
	h := newHarness(t)

	rec, resp := h.do(t, http.MethodPost, "/accounts/chk-1001/deposit", "s1", map[string]any{"amount": "100"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, resp.Degraded)

	_, resp = h.do(t, http.MethodGet, "/accounts/chk-1001", "s1", nil)
	acct, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "5520.65", acct["balance"])
}

func TestDeposit_BadRequests(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodPost, "/accounts/chk-1001/deposit", "s1", map[string]any{"amount": "0"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "Expected 400 for a zero amount")

	req := httptest.NewRequest(http.MethodPost, "/accounts/chk-1001/deposit", strings.NewReader("{"))
	req.Header.Set(SessionHeader, "s1")
	raw := httptest.NewRecorder()
	h.server.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code, "Expected 400 for malformed JSON")

	for _, body := range []string{`{"amount": 1e999999999}`, `{"amount": "1e999999999"}`, `{"amount": 10.005}`} {
		req := httptest.NewRequest(http.MethodPost, "/accounts/chk-1001/payment", strings.NewReader(body))
		req.Header.Set(SessionHeader, "s1")
		raw := httptest.NewRecorder()
		h.server.ServeHTTP(raw, req)
		assert.Equal(t, http.StatusBadRequest, raw.Code, "Expected 400 for %s, got %d", body, raw.Code)
	}
}

func TestUnauthorized_AsksForReauth(t *testing.T) {
	h := newHarness(t)
	h.upstream.status.Store(http.StatusUnauthorized)

	rec, resp := h.do(t, http.MethodGet, "/accounts", "s1", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, resp.Reauth)
	assert.False(t, resp.Degraded, "A 401 must not fall back to sample data")
}

func TestFlow_TransferLifecycle(t *testing.T) {
	h := newHarness(t)

	rec, resp := h.do(t, http.MethodPost, "/flows/"+flows.FlowTransfer, "s1", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	v := view(t, resp)
	require.NotEmpty(t, v.ID)
	assert.Equal(t, 1, v.Step)
	assert.Equal(t, "details", v.StepName)
	assert.Len(t, v.Steps, 2)

	rec, resp = h.do(t, http.MethodPost, "/flows/"+v.ID+"/next", "s1", map[string]string{
		flows.FieldFromAccount: "chk-1001",
		flows.FieldToAccount:   "chk-1001",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, resp.Errors, flows.FieldToAccount)
	assert.Contains(t, resp.Errors, flows.FieldAmount)
	assert.Equal(t, 1, view(t, resp).Step)

	rec, resp = h.do(t, http.MethodPost, "/flows/"+v.ID+"/next", "s1", map[string]string{
		flows.FieldToAccount: "sav-2002",
		flows.FieldAmount:    "50",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	v = view(t, resp)
	assert.Equal(t, 2, v.Step)
	require.NotNil(t, v.Summary, "Expected the review summary on the terminal step")

	rec, resp = h.do(t, http.MethodPost, "/flows/"+v.ID+"/next", "s1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, resp.Degraded)
	v = view(t, resp)
	assert.Equal(t, wizard.StatusDone, v.Status)
	require.NotNil(t, v.Confirmation)
	assert.True(t, strings.HasPrefix(v.Confirmation.Reference, "TRF-"), "got %s", v.Confirmation.Reference)

	rec, _ = h.do(t, http.MethodPost, "/flows/"+v.ID+"/next", "s1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "Expected 409 once the flow is done")

	_, resp = h.do(t, http.MethodGet, "/transfers/recent", "s1", nil)
	recent, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, recent, 1)
}

func TestFlow_PatchThenGet(t *testing.T) {
	h := newHarness(t)

	_, resp := h.do(t, http.MethodPost, "/flows/"+flows.FlowOrderChecks, "s1", nil)
	id := view(t, resp).ID

	rec, _ := h.do(t, http.MethodPatch, "/flows/"+id, "s1", map[string]string{flows.FieldQuantity: "2"})
	require.Equal(t, http.StatusOK, rec.Code)

	_, resp = h.do(t, http.MethodGet, "/flows/"+id, "s1", nil)
	assert.Equal(t, "2", view(t, resp).State[flows.FieldQuantity])
}

func TestFlow_BelongsToSession(t *testing.T) {
	h := newHarness(t)

	_, resp := h.do(t, http.MethodPost, "/flows/"+flows.FlowTransfer, "s1", nil)
	id := view(t, resp).ID

	rec, _ := h.do(t, http.MethodGet, "/flows/"+id, "s2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "Expected another session not to see the flow")
}

func TestFlow_BackFromFirstStepExits(t *testing.T) {
	h := newHarness(t)

	_, resp := h.do(t, http.MethodPost, "/flows/"+flows.FlowTransfer, "s1", nil)
	id := view(t, resp).ID

	rec, resp := h.do(t, http.MethodPost, "/flows/"+id+"/back", "s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, wizard.StatusExited, view(t, resp).Status)
	assert.Equal(t, 0, h.server.ActiveFlows())

	rec, _ = h.do(t, http.MethodGet, "/flows/"+id, "s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFlow_RetryBeforeSubmitConflicts(t *testing.T) {
	h := newHarness(t)

	_, resp := h.do(t, http.MethodPost, "/flows/"+flows.FlowDispute, "s1", nil)
	id := view(t, resp).ID

	rec, _ := h.do(t, http.MethodPost, "/flows/"+id+"/retry", "s1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFlow_Unknown(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodPost, "/flows/loan-application", "s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearSession(t *testing.T) {
	h := newHarness(t)

	h.do(t, http.MethodPost, "/accounts/chk-1001/deposit", "s1", map[string]any{"amount": "100"})
	rec, _ := h.do(t, http.MethodDelete, "/session", "s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, resp := h.do(t, http.MethodGet, "/accounts/chk-1001", "s1", nil)
	acct := resp.Data.(map[string]any)
	assert.Equal(t, "5420.65", acct["balance"], "Expected the sample balance after clearing the session")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodGet, "/flows", "s1", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bankflow_http_requests_total{endpoint="/flows",method="GET",status="200"} 1`)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"client rejection", &apiclient.APIError{Status: http.StatusConflict}, http.StatusConflict},
		{"upstream outage", &apiclient.APIError{Status: http.StatusServiceUnavailable}, http.StatusBadGateway},
		{"unauthorized", apiclient.ErrUnauthorized, http.StatusUnauthorized},
		{"missing session", session.ErrNoSession, http.StatusUnauthorized},
		{"timeout", context.DeadlineExceeded, http.StatusBadGateway},
		{"canceled", context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusOf(tt.err); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestSaveBeneficiaries_RejectsBadAllocation(t *testing.T) {
	h := newHarness(t)

	rec, resp := h.do(t, http.MethodPut, "/accounts/ret-4004/beneficiaries", "s1", []map[string]any{
		{"id": "ben-1", "name": "Alex Doe", "type": "primary", "percentage": "60"},
		{"id": "ben-2", "name": "Sam Doe", "type": "primary", "percentage": "30"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, resp.Error, "100")
}

func TestSaveAlerts_UsesPathAccount(t *testing.T) {
	h := newHarness(t)

	rec, resp := h.do(t, http.MethodPut, "/accounts/chk-1001/alerts", "s1", map[string]any{
		"lowBalance": "50",
		"channels":   []string{"sms"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, resp.Degraded)

	_, resp = h.do(t, http.MethodGet, "/accounts/chk-1001/alerts", "s1", nil)
	prefs, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "chk-1001", prefs["accountId"])
	assert.Equal(t, "50", prefs["lowBalance"])
}
