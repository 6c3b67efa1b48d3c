package risk

import "math"

// FeatureCount количество признаков, которое ожидает обученная модель
const FeatureCount = 9

// Позиции признаков в векторе. Порядок совпадает с порядком признаков при
// обучении модели; слоты 4..7 модель ожидает, но интерфейс их не собирает.
const (
	SlotFootfall    = 0
	SlotVibration   = 1
	SlotAirQuality  = 2
	SlotLoad        = 3
	SlotTemperature = 8
)

// FeatureNames имена признаков по позициям вектора
var FeatureNames = [FeatureCount]string{
	"footfall", "vibration", "aq", "load",
	"unused_4", "unused_5", "unused_6", "unused_7",
	"temperature",
}

// SensorInputs значения датчиков, заданные пользователем
type SensorInputs struct {
	Footfall    float64 `json:"footfall"`
	Temperature float64 `json:"temperature"`
	Vibration   float64 `json:"vibration"`
	Load        float64 `json:"load"`
	AirQuality  float64 `json:"aq"`
}

// Bound допустимый диапазон значения датчика
type Bound struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Границы значений датчиков
var (
	FootfallBound    = Bound{0, 100}
	TemperatureBound = Bound{0, 150}
	VibrationBound   = Bound{0, 100}
	LoadBound        = Bound{0, 100}
	AirQualityBound  = Bound{0, 500}
)

// DefaultInputs возвращает значения датчиков по умолчанию
func DefaultInputs() SensorInputs {
	return SensorInputs{
		Footfall:    30,
		Temperature: 60,
		Vibration:   20,
		Load:        25,
		AirQuality:  100,
	}
}

// Clamp приводит значения к допустимым диапазонам.
// Вызывается на границе ввода; Assess значения повторно не проверяет.
func (in SensorInputs) Clamp() SensorInputs {
	return SensorInputs{
		Footfall:    FootfallBound.clamp(in.Footfall),
		Temperature: TemperatureBound.clamp(in.Temperature),
		Vibration:   VibrationBound.clamp(in.Vibration),
		Load:        LoadBound.clamp(in.Load),
		AirQuality:  AirQualityBound.clamp(in.AirQuality),
	}
}

func (b Bound) clamp(v float64) float64 {
	if math.IsNaN(v) {
		return b.Min
	}
	return math.Max(b.Min, math.Min(b.Max, v))
}

// FeatureVector упорядоченный вектор признаков для классификатора
type FeatureVector [FeatureCount]float64

// Features строит вектор признаков:
// [footfall, vibration, aq, load, 0, 0, 0, 0, temperature]
func (in SensorInputs) Features() FeatureVector {
	var v FeatureVector
	v[SlotFootfall] = in.Footfall
	v[SlotVibration] = in.Vibration
	v[SlotAirQuality] = in.AirQuality
	v[SlotLoad] = in.Load
	v[SlotTemperature] = in.Temperature
	return v
}
