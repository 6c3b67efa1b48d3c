// Package telemetry реализует симулятор живой телеметрии датчика
// Включает скользящий ряд фиксированной длины (окно 40 отсчётов) и генерацию
// нового отсчёта с гауссовым шумом, зависящим от нагрузки
package telemetry

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// DefaultCapacity размер скользящего ряда по умолчанию (40 отсчётов)
	DefaultCapacity = 40
	// NoiseStdDev стандартное отклонение шума
	NoiseStdDev = 0.5
	// MaxDelta ограничение приращения за один тик (±3)
	MaxDelta = 3.0
	// MinSensorLoad нижняя граница индикатора нагрузки датчика
	MinSensorLoad = 5
	// MaxSensorLoad верхняя граница индикатора нагрузки датчика
	MaxSensorLoad = 95

	driftFactor = 0.2
	loadScale   = 25.0
)

// ErrEmptySeries возвращается при попытке продолжить ряд нулевой длины
var ErrEmptySeries = errors.New("telemetry: series capacity must be at least 1")

// Series реализует скользящий ряд фиксированной длины.
// Добавление значения вытесняет самое старое, длина не меняется.
// Series неизменяем: Push возвращает новый ряд.
type Series struct {
	values []float64
	// index позиция самого старого значения
	index int
}

// NewSeries создает ряд заданной длины, заполненный нулями
func NewSeries(capacity int) Series {
	if capacity < 0 {
		capacity = 0
	}
	return Series{values: make([]float64, capacity)}
}

// SeriesFrom создает ряд из значений (от старых к новым)
func SeriesFrom(values []float64) Series {
	v := make([]float64, len(values))
	copy(v, values)
	return Series{values: v}
}

// Len возвращает длину ряда
func (s Series) Len() int {
	return len(s.values)
}

// Last возвращает последнее (самое новое) значение
func (s Series) Last() (float64, error) {
	n := len(s.values)
	if n == 0 {
		return 0, ErrEmptySeries
	}
	return s.values[(s.index+n-1)%n], nil
}

// Push возвращает новый ряд без самого старого значения и с value в конце
func (s Series) Push(value float64) Series {
	n := len(s.values)
	if n == 0 {
		return s
	}

	out := Series{values: make([]float64, n), index: s.index}
	copy(out.values, s.values)
	out.values[out.index] = value
	out.index = (out.index + 1) % n
	return out
}

// Values возвращает значения от старых к новым
func (s Series) Values() []float64 {
	n := len(s.values)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = s.values[(s.index+i)%n]
	}
	return out
}

// Mean возвращает среднее значение ряда
func (s Series) Mean() float64 {
	if len(s.values) == 0 {
		return 0
	}
	return stat.Mean(s.values, nil)
}

// StdDev возвращает стандартное отклонение ряда
func (s Series) StdDev() float64 {
	if len(s.values) < 2 {
		return 0
	}
	return stat.StdDev(s.values, nil)
}

// MarshalJSON сериализует ряд как массив значений от старых к новым
func (s Series) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// UnmarshalJSON восстанавливает ряд из массива значений
func (s *Series) UnmarshalJSON(data []byte) error {
	var values []float64
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = SeriesFrom(values)
	return nil
}

// Simulator генерирует новые отсчёты телеметрии.
// Источник случайных чисел внедряется, чтобы тесты могли зафиксировать seed.
type Simulator struct {
	mu  sync.Mutex
	src rand.Source
}

// NewSimulator создает симулятор. При src == nil используется PCG с seed от текущего времени.
func NewSimulator(src rand.Source) *Simulator {
	if src == nil {
		src = rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)
	}
	return &Simulator{src: src}
}

// Tick вычисляет следующий отсчёт: шум N(0.2*load/25, 0.5), ограниченный ±3,
// прибавляется к последнему значению ряда. Возвращает новый ряд и индикатор
// нагрузки датчика в процентах. Исходный ряд не изменяется.
func (s *Simulator) Tick(current Series, load float64) (Series, int, error) {
	last, err := current.Last()
	if err != nil {
		return current, 0, err
	}

	delta := clamp(s.noise(load), -MaxDelta, MaxDelta)
	next := delta + last

	return current.Push(next), SensorLoad(next), nil
}

// noise возвращает одно значение гауссова шума для заданной нагрузки
func (s *Simulator) noise(load float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := distuv.Normal{
		Mu:    driftFactor * load / loadScale,
		Sigma: NoiseStdDev,
		Src:   s.src,
	}
	return n.Rand()
}

// SensorLoad возвращает индикатор нагрузки датчика: round(|v|*10), ограниченный [5, 95]
func SensorLoad(v float64) int {
	return int(clamp(math.Round(math.Abs(v)*10), MinSensorLoad, MaxSensorLoad))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
