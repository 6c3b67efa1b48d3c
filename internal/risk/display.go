package risk

import "math"

// Уровни риска
const (
	LevelLow    = "Low"
	LevelMedium = "Medium"
	LevelHigh   = "High"
)

// DisplayMetrics показатели для карточек панели
type DisplayMetrics struct {
	SystemHealth int    `json:"system_health"`
	AIConfidence int    `json:"ai_confidence"`
	SensorLoad   int    `json:"sensor_load"`
	RiskLevel    string `json:"risk_level"`
	RiskPercent  int    `json:"risk_percent"`
}

// Display вычисляет показатели панели по вероятности отказа
func Display(p float64, sensorLoad int) DisplayMetrics {
	return DisplayMetrics{
		SystemHealth: Health(p),
		AIConfidence: Confidence(p),
		SensorLoad:   sensorLoad,
		RiskLevel:    Level(p),
		RiskPercent:  int(p * 100),
	}
}

// Health здоровье системы: 100 - round(100*p), не меньше 0
func Health(p float64) int {
	h := 100 - int(math.Round(100*p))
	if h < 0 {
		return 0
	}
	return h
}

// Confidence уверенность модели: round(100*(1 - |0.5 - p|))
func Confidence(p float64) int {
	return int(math.Round(100 * (1 - math.Abs(0.5-p))))
}

// Level трёхуровневая оценка риска
func Level(p float64) string {
	switch {
	case p < 0.25:
		return LevelLow
	case p < 0.5:
		return LevelMedium
	default:
		return LevelHigh
	}
}
