// Package models содержит структуры данных API панели мониторинга
package models

import (
	"time"

	"predmaint-service/internal/risk"
	"predmaint-service/internal/telemetry"
)

// Dashboard представляет состояние панели для одной сессии
type Dashboard struct {
	SessionID   string              `json:"session_id"`
	Status      string              `json:"status"`
	Critical    bool                `json:"critical"`
	LastRisk    float64             `json:"last_risk"`
	Metrics     risk.DisplayMetrics `json:"metrics"`
	Inputs      risk.SensorInputs   `json:"inputs"`
	Series      telemetry.Series    `json:"series"`
	SeriesStats SeriesStats         `json:"series_stats"`
	Live        bool                `json:"live"`
	Mode        string              `json:"mode"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// SeriesStats статистика ряда для подписи графика
type SeriesStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Last   float64 `json:"last"`
}

// ScanResponse содержит результат сканирования и обновлённую панель
type ScanResponse struct {
	Assessment risk.Assessment `json:"assessment"`
	Dashboard  Dashboard       `json:"dashboard"`
}

// ScanRecord запись истории сканирований
type ScanRecord struct {
	SessionID  string            `json:"session_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Inputs     risk.SensorInputs `json:"inputs"`
	Assessment risk.Assessment   `json:"assessment"`
}

// LiveRequest параметры запуска живого режима
type LiveRequest struct {
	Ticks      int `json:"ticks,omitempty"`
	IntervalMs int `json:"interval_ms,omitempty"`
}

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Classifier string    `json:"classifier"`
	Redis      string    `json:"redis"`
	Sessions   int       `json:"sessions"`
	Uptime     string    `json:"uptime"`
	// ScansTotal и AlertsTotal заполняются только при подключенном Redis
	ScansTotal  int64 `json:"scans_total,omitempty"`
	AlertsTotal int64 `json:"alerts_total,omitempty"`
}
