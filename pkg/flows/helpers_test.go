package flows

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bankflow/pkg/apiclient"
	"bankflow/pkg/form"
	metricsmem "bankflow/pkg/metrics/memory"
	"bankflow/pkg/resilience"
	"bankflow/pkg/session"
	"bankflow/pkg/store"
	"bankflow/pkg/store/mock"
	"bankflow/pkg/wizard"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

// fakeAPI is a scriptable banking API. Unknown routes answer 404, which
// the client treats as unreachable.
type fakeAPI struct {
	mu     sync.Mutex
	down   bool
	status int
	routes map[string]func(body []byte) any
	calls  []string
	bodies map[string][]byte
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	key := r.Method + " " + strings.TrimPrefix(r.URL.Path, "/api")

	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.bodies[key] = body
	down, status := f.down, f.status
	route, ok := f.routes[key]
	f.mu.Unlock()

	switch {
	case down:
		writeEnvelope(w, http.StatusServiceUnavailable, false, nil, "maintenance")
	case status != 0:
		writeEnvelope(w, status, false, nil, http.StatusText(status))
	case !ok:
		writeEnvelope(w, http.StatusNotFound, false, nil, "no such route")
	default:
		writeEnvelope(w, http.StatusOK, true, route(body), "")
	}
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, data any, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": success, "data": data, "error": msg})
}

// handle registers a fixed answer for "METHOD /path".
func (f *fakeAPI) handle(route string, data any) {
	f.handleFunc(route, func([]byte) any { return data })
}

func (f *fakeAPI) handleFunc(route string, fn func(body []byte) any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[route] = fn
}

func (f *fakeAPI) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeAPI) setStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakeAPI) called(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == route {
			n++
		}
	}
	return n
}

func (f *fakeAPI) body(route string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[route]
}

type fixture struct {
	svc      *Service
	api      *fakeAPI
	sessions *session.Store
	layer    *mock.Layer
	metrics  *metricsmem.MemoryCollector
	ctx      context.Context
}

func newFixture(t *testing.T, opts ...func(*apiclient.Config)) *fixture {
	t.Helper()

	api := &fakeAPI{
		routes: map[string]func([]byte) any{},
		bodies: map[string][]byte{},
	}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	rc := resilience.DefaultConfig().WithTimeout(time.Second)
	rc.Breaker.ReadyToTrip = resilience.ConsecutiveFailures(1000)

	mc := metricsmem.NewMemoryCollector()
	config := apiclient.Config{
		BaseURL:    server.URL + "/api",
		Tokens:     apiclient.StaticToken("opaque-token"),
		Resilience: rc,
		Metrics:    mc,
	}
	for _, opt := range opts {
		opt(&config)
	}

	layer := mock.New("L1")
	kv, err := store.NewTiered(store.TieredConfig{}, layer)
	require.NoError(t, err)
	sessions := session.New(kv, nil)

	svc := New(Config{
		Client:   apiclient.New(config),
		Sessions: sessions,
		Metrics:  mc,
		Now:      func() time.Time { return testNow },
	})
	return &fixture{
		svc:      svc,
		api:      api,
		sessions: sessions,
		layer:    layer,
		metrics:  mc,
		ctx:      session.WithID(context.Background(), "s1"),
	}
}

// fill sets values and advances one step, failing the test on any error.
func fill(t *testing.T, ctx context.Context, w *wizard.Wizard, values map[string]string) {
	t.Helper()
	require.NoError(t, w.SetAll(values))
	require.NoError(t, w.Next(ctx))
}

// blocked sets values, advances and returns the validation errors.
func blocked(t *testing.T, ctx context.Context, w *wizard.Wizard, values map[string]string) form.Errors {
	t.Helper()
	step := w.CurrentStep()
	require.NoError(t, w.SetAll(values))
	err := w.Next(ctx)
	var errs form.Errors
	require.ErrorAs(t, err, &errs)
	require.Equal(t, step, w.CurrentStep(), "a blocked step must not advance")
	return errs
}
