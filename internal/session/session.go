// Package session хранит состояние панели одной вкладки браузера
// Значения датчиков, скользящий ряд, последний результат оценки и живой режим
package session

import (
	"context"
	"sync"
	"time"

	"predmaint-service/internal/log"
	"predmaint-service/internal/metrics"
	"predmaint-service/internal/risk"
	"predmaint-service/internal/telemetry"
)

const (
	// DefaultLiveTicks количество тиков живого режима
	DefaultLiveTicks = 60
	// DefaultLiveInterval пауза между тиками
	DefaultLiveInterval = 80 * time.Millisecond
	// MaxLiveTicks верхняя граница тиков, запрошенных клиентом
	MaxLiveTicks = 10 * DefaultLiveTicks
	// MinLiveInterval нижняя граница паузы, запрошенной клиентом
	MinLiveInterval = 10 * time.Millisecond

	// Начальные значения панели до первого сканирования
	InitialRisk       = 0.12
	InitialSensorLoad = 27

	subscriberBuffer = 16
)

// Frame кадр живого режима для перерисовки графика
type Frame struct {
	SessionID  string           `json:"session_id"`
	Series     telemetry.Series `json:"series"`
	SensorLoad int              `json:"sensor_load"`
	Tick       int              `json:"tick"`
	Total      int              `json:"total"`
}

// Snapshot неизменяемая копия состояния сессии
type Snapshot struct {
	ID         string
	Inputs     risk.SensorInputs
	Series     telemetry.Series
	LastRisk   float64
	Status     string
	Source     string
	SensorLoad int
	Live       bool
	UpdatedAt  time.Time
}

// Critical сообщает, показывает ли карточка статуса тревогу
func (s Snapshot) Critical() bool {
	return s.Status == risk.StatusCritical
}

// Session состояние одной сессии
type Session struct {
	id string

	mu         sync.Mutex
	inputs     risk.SensorInputs
	series     telemetry.Series
	lastRisk   float64
	lastStatus string
	lastSource string
	sensorLoad int
	touched    time.Time

	live   bool
	cancel context.CancelFunc
	done   chan struct{}

	subs    map[int]chan Frame
	nextSub int
}

// New создает сессию с нулевым рядом заданной длины
func New(id string, capacity int) *Session {
	return &Session{
		id:         id,
		inputs:     risk.DefaultInputs(),
		series:     telemetry.NewSeries(capacity),
		lastRisk:   InitialRisk,
		lastStatus: risk.StatusStable,
		sensorLoad: InitialSensorLoad,
		touched:    time.Now(),
		subs:       make(map[int]chan Frame),
	}
}

// ID возвращает идентификатор сессии
func (s *Session) ID() string {
	return s.id
}

// Inputs возвращает текущие значения датчиков
func (s *Session) Inputs() risk.SensorInputs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputs
}

// SetInputs сохраняет значения датчиков, приводя их к допустимым диапазонам
func (s *Session) SetInputs(in risk.SensorInputs) risk.SensorInputs {
	clamped := in.Clamp()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = clamped
	s.touched = time.Now()
	return clamped
}

// Scan оценивает риск по текущим значениям датчиков и сохраняет результат.
// При ошибке классификатора состояние не изменяется.
func (s *Session) Scan(a *risk.Assessor, c risk.Classifier) (risk.Assessment, error) {
	inputs := s.Inputs()

	result, err := a.Assess(inputs, c)
	if err != nil {
		return risk.Assessment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRisk = result.Probability
	s.lastStatus = result.Status
	s.lastSource = result.Source
	s.touched = time.Now()
	return result, nil
}

// ForceAlert выставляет критический статус, минуя оценщик
func (s *Session) ForceAlert() risk.Assessment {
	result := risk.ForcedAlert()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRisk = result.Probability
	s.lastStatus = result.Status
	s.lastSource = result.Source
	s.touched = time.Now()
	return result
}

// Snapshot возвращает копию состояния для отображения.
// Карточка статуса показывает тревогу всегда, когда риск выше 0.5.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.lastStatus
	if s.lastRisk > risk.CriticalThreshold {
		status = risk.StatusCritical
	}

	return Snapshot{
		ID:         s.id,
		Inputs:     s.inputs,
		Series:     s.series,
		LastRisk:   s.lastRisk,
		Status:     status,
		Source:     s.lastSource,
		SensorLoad: s.sensorLoad,
		Live:       s.live,
		UpdatedAt:  s.touched,
	}
}

// Live сообщает, запущен ли живой режим
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// StartLive запускает периодическую задачу: ticks тиков с паузой interval.
// Задача останавливается по StopLive или отмене ctx. Возвращает false,
// если живой режим уже запущен.
func (s *Session) StartLive(ctx context.Context, sim *telemetry.Simulator, ticks int, interval time.Duration) bool {
	if ticks <= 0 {
		ticks = DefaultLiveTicks
	}
	if interval <= 0 {
		interval = DefaultLiveInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live {
		return false
	}

	liveCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.live = true
	s.cancel = cancel
	s.done = done
	s.touched = time.Now()
	metrics.LiveSessions.Inc()

	go s.runLive(liveCtx, sim, ticks, interval, done)
	return true
}

// StopLive останавливает живой режим и ждёт завершения задачи.
// Возвращает false, если живой режим не был запущен.
func (s *Session) StopLive() bool {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return true
}

// WaitLive блокируется до завершения текущей задачи живого режима
func (s *Session) WaitLive() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (s *Session) runLive(ctx context.Context, sim *telemetry.Simulator, ticks int, interval time.Duration, done chan struct{}) {
	defer close(done)
	defer s.finishLive()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 1; i <= ticks; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.tick(sim, i, ticks); err != nil {
			log.Errorw("live tick failed", "session", s.id, "error", err)
			return
		}
		if i == ticks {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick выполняет один шаг симуляции с текущей нагрузкой и рассылает кадр
func (s *Session) tick(sim *telemetry.Simulator, i, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	series, sensorLoad, err := sim.Tick(s.series, s.inputs.Load)
	if err != nil {
		return err
	}
	s.series = series
	s.sensorLoad = sensorLoad
	metrics.LiveTicks.Inc()

	frame := Frame{
		SessionID:  s.id,
		Series:     series,
		SensorLoad: sensorLoad,
		Tick:       i,
		Total:      total,
	}
	for _, ch := range s.subs {
		select {
		case ch <- frame:
		default:
			// Подписчик не успевает, кадр пропускается
		}
	}
	return nil
}

func (s *Session) finishLive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = false
	if s.cancel != nil {
		// Контекст задачи освобождается и при естественном завершении
		s.cancel()
		s.cancel = nil
	}
	metrics.LiveSessions.Dec()
}

// Subscribe возвращает канал кадров живого режима и функцию отписки
func (s *Session) Subscribe() (<-chan Frame, func()) {
	ch := make(chan Frame, subscriberBuffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close останавливает живой режим и закрывает каналы подписчиков
func (s *Session) Close() {
	s.StopLive()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched, s.live
}
