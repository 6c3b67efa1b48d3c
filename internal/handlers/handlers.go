// Package handlers содержит HTTP обработчики API панели мониторинга
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"predmaint-service/internal/alerts"
	"predmaint-service/internal/cache"
	"predmaint-service/internal/log"
	"predmaint-service/internal/metrics"
	"predmaint-service/internal/models"
	"predmaint-service/internal/risk"
	"predmaint-service/internal/session"
	"predmaint-service/internal/telemetry"
)

const (
	defaultScanCount = int64(20)
	maxScanCount     = int64(100)
	alertTimeout     = 2 * time.Second
	historyTimeout   = 2 * time.Second
	wsWriteTimeout   = 5 * time.Second
)

// ScanHistory хранилище истории сканирований
type ScanHistory interface {
	CacheScan(ctx context.Context, rec models.ScanRecord) error
	GetRecentScans(ctx context.Context, sessionID string, count int64) ([]models.ScanRecord, error)
	DeleteScans(ctx context.Context, sessionID string) error
	GetCounter(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
}

// LiveConfig параметры живого режима по умолчанию
type LiveConfig struct {
	Ticks    int
	Interval time.Duration
}

// Options зависимости обработчика
type Options struct {
	Sessions   *session.Manager
	Simulator  *telemetry.Simulator
	Assessor   *risk.Assessor
	Classifier risk.Classifier
	History    ScanHistory
	Notifier   alerts.Notifier
	Live       LiveConfig
}

// Handler содержит зависимости для HTTP обработчиков
type Handler struct {
	sessions   *session.Manager
	sim        *telemetry.Simulator
	assessor   *risk.Assessor
	classifier risk.Classifier
	history    ScanHistory
	notifier   alerts.Notifier
	live       LiveConfig
	startTime  time.Time
	upgrader   websocket.Upgrader
}

// NewHandler создает новый обработчик
func NewHandler(opts Options) *Handler {
	if opts.Notifier == nil {
		opts.Notifier = alerts.Nop{}
	}
	if opts.Live.Ticks <= 0 {
		opts.Live.Ticks = session.DefaultLiveTicks
	}
	if opts.Live.Interval <= 0 {
		opts.Live.Interval = session.DefaultLiveInterval
	}

	return &Handler{
		sessions:   opts.Sessions,
		sim:        opts.Simulator,
		assessor:   opts.Assessor,
		classifier: opts.Classifier,
		history:    opts.History,
		notifier:   opts.Notifier,
		live:       opts.Live,
		startTime:  time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Register регистрирует маршруты API
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/sessions", h.CreateSessionHandler).Methods("POST")
	router.HandleFunc("/sessions/{id}", h.GetSessionHandler).Methods("GET")
	router.HandleFunc("/sessions/{id}", h.DeleteSessionHandler).Methods("DELETE")
	router.HandleFunc("/sessions/{id}/inputs", h.InputsHandler).Methods("PUT")
	router.HandleFunc("/sessions/{id}/live/start", h.StartLiveHandler).Methods("POST")
	router.HandleFunc("/sessions/{id}/live/stop", h.StopLiveHandler).Methods("POST")
	router.HandleFunc("/sessions/{id}/live/stream", h.StreamHandler).Methods("GET")
	router.HandleFunc("/sessions/{id}/scan", h.ScanHandler).Methods("POST")
	router.HandleFunc("/sessions/{id}/force-alert", h.ForceAlertHandler).Methods("POST")
	router.HandleFunc("/sessions/{id}/scans", h.ScansHandler).Methods("GET")
	router.HandleFunc("/health", h.HealthHandler).Methods("GET")
}

// CreateSessionHandler обрабатывает POST /sessions - создание сессии
func (h *Handler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create()
	h.applyForceAlert(r, s)

	log.Infow("session created", "session", s.ID())
	h.respondJSON(w, h.dashboard(s.Snapshot()), http.StatusCreated)
}

// GetSessionHandler обрабатывает GET /sessions/{id} - состояние панели
func (h *Handler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.applyForceAlert(r, s)

	h.respondJSON(w, h.dashboard(s.Snapshot()), http.StatusOK)
}

// DeleteSessionHandler обрабатывает DELETE /sessions/{id}
func (h *Handler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.sessions.Delete(id); err != nil {
		h.respondError(w, err.Error(), http.StatusNotFound)
		return
	}

	if h.history != nil {
		ctx, cancel := context.WithTimeout(r.Context(), historyTimeout)
		defer cancel()
		if err := h.history.DeleteScans(ctx, id); err != nil {
			log.Warnw("scan history not deleted", "session", id, "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// InputsHandler обрабатывает PUT /sessions/{id}/inputs - значения датчиков.
// Поля, отсутствующие в запросе, сохраняют текущие значения.
func (h *Handler) InputsHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	inputs := s.Inputs()
	if err := json.NewDecoder(r.Body).Decode(&inputs); err != nil {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.SetInputs(inputs)

	h.respondJSON(w, h.dashboard(s.Snapshot()), http.StatusOK)
}

// StartLiveHandler обрабатывает POST /sessions/{id}/live/start - запуск живого режима
func (h *Handler) StartLiveHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req models.LiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	ticks, interval := h.liveParams(req)

	if !s.StartLive(h.sessions.Context(), h.sim, ticks, interval) {
		h.respondError(w, "Live mode already running", http.StatusConflict)
		return
	}

	log.Debugw("live mode started", "session", s.ID(), "ticks", ticks, "interval", interval.String())
	h.respondJSON(w, h.dashboard(s.Snapshot()), http.StatusAccepted)
}

// liveParams возвращает параметры живого режима; значения клиента ограничиваются
// MaxLiveTicks и MinLiveInterval
func (h *Handler) liveParams(req models.LiveRequest) (int, time.Duration) {
	ticks := h.live.Ticks
	if req.Ticks > 0 {
		ticks = min(req.Ticks, session.MaxLiveTicks)
	}
	interval := h.live.Interval
	if req.IntervalMs > 0 {
		interval = max(time.Duration(req.IntervalMs)*time.Millisecond, session.MinLiveInterval)
	}
	return ticks, interval
}

// StopLiveHandler обрабатывает POST /sessions/{id}/live/stop - остановка живого режима
func (h *Handler) StopLiveHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if s.StopLive() {
		log.Debugw("live mode stopped", "session", s.ID())
	}
	h.respondJSON(w, h.dashboard(s.Snapshot()), http.StatusOK)
}

// StreamHandler обрабатывает GET /sessions/{id}/live/stream - кадры графика по WebSocket
func (h *Handler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("websocket upgrade failed", "session", s.ID(), "error", err)
		return
	}
	defer conn.Close()

	frames, unsubscribe := s.Subscribe()
	defer unsubscribe()

	// Клиент ничего не отправляет; чтение нужно для обработки закрытия соединения
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snap := s.Snapshot()
	initial := session.Frame{SessionID: snap.ID, Series: snap.Series, SensorLoad: snap.SensorLoad}
	if err := h.writeFrame(conn, initial); err != nil {
		return
	}

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := h.writeFrame(conn, frame); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handler) writeFrame(conn *websocket.Conn, f session.Frame) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(f)
}

// ScanHandler обрабатывает POST /sessions/{id}/scan - оценка риска
func (h *Handler) ScanHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result, err := s.Scan(h.assessor, h.classifier)
	metrics.ScanLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ScanErrors.Inc()
		log.Errorw("scan failed", "session", s.ID(), "error", err)
		h.respondError(w, "Scan failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.ObserveScan(result.Status, result.Source, result.Probability)
	h.recordScan(r.Context(), s, result)

	h.respondJSON(w, models.ScanResponse{
		Assessment: result,
		Dashboard:  h.dashboard(s.Snapshot()),
	}, http.StatusOK)
}

// ForceAlertHandler обрабатывает POST /sessions/{id}/force-alert - принудительная тревога
func (h *Handler) ForceAlertHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	result := s.ForceAlert()
	metrics.ForcedAlerts.Inc()
	h.notify(r.Context(), s.ID(), result)

	h.respondJSON(w, h.dashboard(s.Snapshot()), http.StatusOK)
}

// ScansHandler обрабатывает GET /sessions/{id}/scans - последние сканирования из кэша
func (h *Handler) ScansHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	count := defaultScanCount
	if countStr := r.URL.Query().Get("count"); countStr != "" {
		if c, err := strconv.ParseInt(countStr, 10, 64); err == nil && c > 0 && c <= maxScanCount {
			count = c
		}
	}

	if h.history == nil {
		h.respondError(w, "Cache not available", http.StatusServiceUnavailable)
		return
	}

	records, err := h.history.GetRecentScans(r.Context(), s.ID(), count)
	if err != nil {
		h.respondError(w, "Failed to get scans: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, records, http.StatusOK)
}

// HealthHandler обрабатывает GET /health - проверка здоровья
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := models.HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Classifier: h.mode(),
		Redis:      "disabled",
		Sessions:   h.sessions.Len(),
		Uptime:     time.Since(h.startTime).String(),
	}

	if h.history != nil {
		status.Redis = "connected"
		if err := h.history.Ping(r.Context()); err != nil {
			status.Redis = "disconnected"
		} else {
			// Счетчики общие для всех экземпляров сервиса
			status.ScansTotal, _ = h.history.GetCounter(r.Context(), cache.ScansTotalKey)
			status.AlertsTotal, _ = h.history.GetCounter(r.Context(), cache.AlertsTotalKey)
		}
	}

	h.respondJSON(w, status, http.StatusOK)
}

// recordScan сохраняет сканирование в историю и отправляет уведомление для критического статуса
func (h *Handler) recordScan(ctx context.Context, s *session.Session, result risk.Assessment) {
	if h.history != nil {
		hctx, cancel := context.WithTimeout(ctx, historyTimeout)
		defer cancel()

		rec := models.ScanRecord{
			SessionID:  s.ID(),
			Timestamp:  time.Now(),
			Inputs:     s.Inputs(),
			Assessment: result,
		}
		if err := h.history.CacheScan(hctx, rec); err != nil {
			metrics.CacheWrites.WithLabelValues("error").Inc()
			log.Warnw("scan not cached", "session", s.ID(), "error", err)
		} else {
			metrics.CacheWrites.WithLabelValues("ok").Inc()
		}
	}

	if result.Critical() {
		h.notify(ctx, s.ID(), result)
	}
}

func (h *Handler) notify(ctx context.Context, sessionID string, result risk.Assessment) {
	actx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()

	alerts.Send(actx, h.notifier, alerts.Alert{
		SessionID:   sessionID,
		Status:      result.Status,
		Probability: result.Probability,
		Source:      result.Source,
		Timestamp:   time.Now(),
	})
}

// applyForceAlert применяет параметр запроса force_alert
func (h *Handler) applyForceAlert(r *http.Request, s *session.Session) {
	switch r.URL.Query().Get("force_alert") {
	case "1", "true", "True":
		s.ForceAlert()
		metrics.ForcedAlerts.Inc()
	}
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return s, true
}

func (h *Handler) mode() string {
	if h.classifier == nil {
		return risk.SourceFallback
	}
	return risk.SourceModel
}

// dashboard собирает ответ панели из снимка сессии
func (h *Handler) dashboard(snap session.Snapshot) models.Dashboard {
	last, _ := snap.Series.Last()
	return models.Dashboard{
		SessionID: snap.ID,
		Status:    snap.Status,
		Critical:  snap.Critical(),
		LastRisk:  snap.LastRisk,
		Metrics:   risk.Display(snap.LastRisk, snap.SensorLoad),
		Inputs:    snap.Inputs,
		Series:    snap.Series,
		SeriesStats: models.SeriesStats{
			Mean:   snap.Series.Mean(),
			StdDev: snap.Series.StdDev(),
			Last:   last,
		},
		Live:      snap.Live,
		Mode:      h.mode(),
		UpdatedAt: snap.UpdatedAt,
	}
}

// respondJSON отправляет JSON ответ
func (h *Handler) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError отправляет ошибку в JSON формате
func (h *Handler) respondError(w http.ResponseWriter, message string, status int) {
	h.respondJSON(w, map[string]string{"error": message}, status)
}
