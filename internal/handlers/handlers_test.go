package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"predmaint-service/internal/alerts"
	"predmaint-service/internal/cache"
	"predmaint-service/internal/models"
	"predmaint-service/internal/risk"
	"predmaint-service/internal/session"
	"predmaint-service/internal/telemetry"
)

type stubClassifier struct {
	label int
	p     float64
	err   error
}

func (s stubClassifier) Predict(risk.FeatureVector) (int, error) { return s.label, s.err }

func (s stubClassifier) PredictProbability(risk.FeatureVector) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float64{1 - s.p, s.p}, nil
}

type memoryHistory struct {
	mu       sync.Mutex
	recs     map[string][]models.ScanRecord
	counters map[string]int64
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{recs: make(map[string][]models.ScanRecord), counters: make(map[string]int64)}
}

func (m *memoryHistory) CacheScan(_ context.Context, rec models.ScanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.SessionID] = append([]models.ScanRecord{rec}, m.recs[rec.SessionID]...)
	m.counters[cache.ScansTotalKey]++
	if rec.Assessment.Critical() {
		m.counters[cache.AlertsTotalKey]++
	}
	return nil
}

func (m *memoryHistory) GetCounter(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key], nil
}

func (m *memoryHistory) GetRecentScans(_ context.Context, id string, count int64) ([]models.ScanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.recs[id]
	if int64(len(recs)) > count {
		recs = recs[:count]
	}
	return recs, nil
}

func (m *memoryHistory) DeleteScans(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, id)
	return nil
}

func (m *memoryHistory) Ping(context.Context) error { return nil }

type countingNotifier struct {
	mu  sync.Mutex
	got []alerts.Alert
}

func (c *countingNotifier) Notify(_ context.Context, a alerts.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, a)
	return nil
}

func (c *countingNotifier) Close() {}

func (c *countingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

type testServer struct {
	*httptest.Server
	history  *memoryHistory
	notifier *countingNotifier
}

func newTestServer(t *testing.T, clf risk.Classifier, withHistory bool) *testServer {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	mgr := session.NewManager(ctx, telemetry.DefaultCapacity)

	ts := &testServer{notifier: &countingNotifier{}}
	opts := Options{
		Sessions:   mgr,
		Simulator:  telemetry.NewSimulator(rand.NewPCG(1, 2)),
		Assessor:   risk.NewAssessor(rand.NewPCG(3, 4)),
		Classifier: clf,
		Notifier:   ts.notifier,
		Live:       LiveConfig{Ticks: 5, Interval: time.Millisecond},
	}
	if withHistory {
		ts.history = newMemoryHistory()
		opts.History = ts.history
	}

	router := mux.NewRouter()
	NewHandler(opts).Register(router)
	router.Use(Middleware)

	ts.Server = httptest.NewServer(router)
	t.Cleanup(func() {
		ts.Close()
		mgr.CloseAll()
		cancel()
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// rawDashboard mirrors models.Dashboard with a plain series slice for decoding
type rawDashboard struct {
	SessionID string              `json:"session_id"`
	Status    string              `json:"status"`
	Critical  bool                `json:"critical"`
	LastRisk  float64             `json:"last_risk"`
	Metrics   risk.DisplayMetrics `json:"metrics"`
	Inputs    risk.SensorInputs   `json:"inputs"`
	Series    []float64           `json:"series"`
	Live      bool                `json:"live"`
	Mode      string              `json:"mode"`
}

func (ts *testServer) createSession(t *testing.T) rawDashboard {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[rawDashboard](t, resp)
}

func TestCreateSession(t *testing.T) {
	ts := newTestServer(t, nil, false)

	d := ts.createSession(t)

	assert.NotEmpty(t, d.SessionID)
	assert.Equal(t, risk.StatusStable, d.Status)
	assert.Equal(t, session.InitialRisk, d.LastRisk)
	assert.Len(t, d.Series, telemetry.DefaultCapacity)
	assert.Equal(t, risk.DefaultInputs(), d.Inputs)
	assert.Equal(t, risk.SourceFallback, d.Mode)
	assert.Equal(t, 88, d.Metrics.SystemHealth)
	assert.Equal(t, 62, d.Metrics.AIConfidence)
	assert.Equal(t, session.InitialSensorLoad, d.Metrics.SensorLoad)
	assert.Equal(t, risk.LevelLow, d.Metrics.RiskLevel)
}

func TestForceAlertQueryParam(t *testing.T) {
	ts := newTestServer(t, nil, false)

	resp := ts.do(t, http.MethodPost, "/sessions?force_alert=true", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	d := decode[rawDashboard](t, resp)

	assert.Equal(t, risk.StatusCritical, d.Status)
	assert.True(t, d.Critical)
	assert.Equal(t, risk.ForcedProbability, d.LastRisk)
	assert.Equal(t, risk.LevelHigh, d.Metrics.RiskLevel)
}

func TestForceAlertEndpoint(t *testing.T) {
	ts := newTestServer(t, nil, false)
	id := ts.createSession(t).SessionID

	resp := ts.do(t, http.MethodPost, "/sessions/"+id+"/force-alert", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d := decode[rawDashboard](t, resp)

	assert.Equal(t, risk.StatusCritical, d.Status)
	assert.Equal(t, 1, ts.notifier.count())
}

func TestUnknownSession(t *testing.T) {
	ts := newTestServer(t, nil, false)

	for _, c := range []struct{ method, path string }{
		{http.MethodGet, "/sessions/nope"},
		{http.MethodDelete, "/sessions/nope"},
		{http.MethodPost, "/sessions/nope/scan"},
		{http.MethodPut, "/sessions/nope/inputs"},
		{http.MethodPost, "/sessions/nope/live/start"},
	} {
		resp := ts.do(t, c.method, c.path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "%s %s", c.method, c.path)
	}
}

func TestInputs(t *testing.T) {
	ts := newTestServer(t, nil, false)
	id := ts.createSession(t).SessionID

	t.Run("partial update keeps other fields and clamps", func(t *testing.T) {
		resp := ts.do(t, http.MethodPut, "/sessions/"+id+"/inputs", map[string]float64{"load": 250, "temperature": 90})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		d := decode[rawDashboard](t, resp)

		assert.Equal(t, 100.0, d.Inputs.Load)
		assert.Equal(t, 90.0, d.Inputs.Temperature)
		assert.Equal(t, 30.0, d.Inputs.Footfall)
		assert.Equal(t, 100.0, d.Inputs.AirQuality)
	})

	t.Run("bad json", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPut, ts.URL+"/sessions/"+id+"/inputs", strings.NewReader("{"))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestScan_CriticalClassifier(t *testing.T) {
	ts := newTestServer(t, stubClassifier{label: 1, p: 0.92}, true)
	id := ts.createSession(t).SessionID

	resp := ts.do(t, http.MethodPost, "/sessions/"+id+"/scan", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Assessment risk.Assessment `json:"assessment"`
		Dashboard  rawDashboard    `json:"dashboard"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, risk.Assessment{Label: 1, Probability: 0.92, Status: risk.StatusCritical, Source: risk.SourceModel}, body.Assessment)
	assert.Equal(t, risk.StatusCritical, body.Dashboard.Status)
	assert.Equal(t, risk.SourceModel, body.Dashboard.Mode)
	assert.Equal(t, 8, body.Dashboard.Metrics.SystemHealth)
	assert.Equal(t, 1, ts.notifier.count())

	scans := ts.do(t, http.MethodGet, "/sessions/"+id+"/scans?count=5", nil)
	require.Equal(t, http.StatusOK, scans.StatusCode)
	recs := decode[[]models.ScanRecord](t, scans)
	require.Len(t, recs, 1)
	assert.Equal(t, 0.92, recs[0].Assessment.Probability)
}

func TestScan_Fallback(t *testing.T) {
	ts := newTestServer(t, nil, false)
	id := ts.createSession(t).SessionID

	for i := 0; i < 20; i++ {
		resp := ts.do(t, http.MethodPost, "/sessions/"+id+"/scan", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body models.ScanResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, risk.SourceFallback, body.Assessment.Source)
		assert.GreaterOrEqual(t, body.Assessment.Probability, risk.FallbackMin)
		assert.LessOrEqual(t, body.Assessment.Probability, risk.FallbackMax)
	}

	resp := ts.do(t, http.MethodGet, "/sessions/"+id+"/scans", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestScan_ClassifierError(t *testing.T) {
	ts := newTestServer(t, stubClassifier{err: errors.New("model exploded")}, false)
	id := ts.createSession(t).SessionID

	resp := ts.do(t, http.MethodPost, "/sessions/"+id+"/scan", nil)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Contains(t, body["error"], "model exploded")

	d := decode[rawDashboard](t, ts.do(t, http.MethodGet, "/sessions/"+id, nil))
	assert.Equal(t, session.InitialRisk, d.LastRisk)
}

func TestLiveMode(t *testing.T) {
	ts := newTestServer(t, nil, false)
	id := ts.createSession(t).SessionID

	resp := ts.do(t, http.MethodPost, "/sessions/"+id+"/live/start", models.LiveRequest{Ticks: 1000, IntervalMs: 5})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, decode[rawDashboard](t, resp).Live)

	again := ts.do(t, http.MethodPost, "/sessions/"+id+"/live/start", nil)
	assert.Equal(t, http.StatusConflict, again.StatusCode)

	stop := ts.do(t, http.MethodPost, "/sessions/"+id+"/live/stop", nil)
	require.Equal(t, http.StatusOK, stop.StatusCode)
	d := decode[rawDashboard](t, stop)
	assert.False(t, d.Live)
	assert.Len(t, d.Series, telemetry.DefaultCapacity)
}

func TestLiveParamsAreBounded(t *testing.T) {
	h := NewHandler(Options{Live: LiveConfig{Ticks: 5, Interval: time.Millisecond}})

	cases := []struct {
		name         string
		req          models.LiveRequest
		wantTicks    int
		wantInterval time.Duration
	}{
		{"defaults", models.LiveRequest{}, 5, time.Millisecond},
		{"within bounds", models.LiveRequest{Ticks: 30, IntervalMs: 50}, 30, 50 * time.Millisecond},
		{"huge request capped", models.LiveRequest{Ticks: 1_000_000_000, IntervalMs: 1}, session.MaxLiveTicks, session.MinLiveInterval},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ticks, interval := h.liveParams(c.req)
			assert.Equal(t, c.wantTicks, ticks)
			assert.Equal(t, c.wantInterval, interval)
		})
	}
}

func TestLiveStream(t *testing.T) {
	ts := newTestServer(t, nil, false)
	id := ts.createSession(t).SessionID

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sessions/" + id + "/live/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var raw struct {
		Series []float64 `json:"series"`
		Tick   int       `json:"tick"`
	}
	require.NoError(t, conn.ReadJSON(&raw))
	assert.Equal(t, 0, raw.Tick)
	assert.Len(t, raw.Series, telemetry.DefaultCapacity)

	resp := ts.do(t, http.MethodPost, "/sessions/"+id+"/live/start", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for want := 1; want <= 5; want++ {
		require.NoError(t, conn.ReadJSON(&raw))
		assert.Equal(t, want, raw.Tick)
		assert.Len(t, raw.Series, telemetry.DefaultCapacity)
	}
}

func TestDeleteSession(t *testing.T) {
	ts := newTestServer(t, nil, true)
	id := ts.createSession(t).SessionID

	resp := ts.do(t, http.MethodDelete, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, stubClassifier{label: 1, p: 0.92}, true)
	id := ts.createSession(t).SessionID
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/sessions/"+id+"/scan", nil).StatusCode)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/sessions/"+id+"/scan", nil).StatusCode)

	resp := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h := decode[models.HealthStatus](t, resp)

	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, risk.SourceModel, h.Classifier)
	assert.Equal(t, "connected", h.Redis)
	assert.Equal(t, 1, h.Sessions)
	assert.Equal(t, int64(2), h.ScansTotal)
	assert.Equal(t, int64(2), h.AlertsTotal)
}
