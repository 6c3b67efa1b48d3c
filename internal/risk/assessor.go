// Package risk реализует оценку риска отказа оборудования
// Строит вектор признаков, вызывает внешний классификатор (или синтетический
// fallback при его отсутствии) и переводит вероятность в статус
package risk

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// StatusStable статус исправной системы
	StatusStable = "SYSTEM STABLE"
	// StatusCritical статус угрозы отказа
	StatusCritical = "CRITICAL FAILURE"

	// CriticalThreshold порог вероятности отказа (строго больше)
	CriticalThreshold = 0.5

	// ForcedProbability вероятность, выставляемая принудительной тревогой
	ForcedProbability = 0.92

	// Параметры fallback: Beta(2, 18), ограниченная [0.01, 0.95]
	FallbackAlpha = 2.0
	FallbackBeta  = 18.0
	FallbackMin   = 0.01
	FallbackMax   = 0.95
)

// Источник оценки
const (
	SourceModel    = "model"
	SourceFallback = "fallback"
	SourceForced   = "forced"
)

// ErrBadProbability возвращается, если классификатор вернул некорректные вероятности
var ErrBadProbability = errors.New("risk: classifier returned malformed probabilities")

// Classifier внешний бинарный классификатор.
// PredictProbability возвращает [p(class0), p(class1)], класс 1 означает отказ.
type Classifier interface {
	Predict(v FeatureVector) (int, error)
	PredictProbability(v FeatureVector) ([]float64, error)
}

// Assessment результат одного сканирования
type Assessment struct {
	Label       int     `json:"predicted_label"`
	Probability float64 `json:"probability"`
	Status      string  `json:"status"`
	Source      string  `json:"source"`
}

// Critical сообщает, соответствует ли результат статусу отказа
func (a Assessment) Critical() bool {
	return a.Status == StatusCritical
}

// Assessor выполняет оценку риска
type Assessor struct {
	mu  sync.Mutex
	src rand.Source
}

// NewAssessor создает оценщик. src используется только в режиме fallback;
// при src == nil используется PCG с seed от текущего времени.
func NewAssessor(src rand.Source) *Assessor {
	if src == nil {
		src = rand.NewPCG(uint64(time.Now().UnixNano()), 0x2545f4914f6cdd1d)
	}
	return &Assessor{src: src}
}

// Assess оценивает риск для заданных значений датчиков.
// При classifier == nil используется синтетическая вероятность.
// Ошибки классификатора не обрабатываются и возвращаются вызывающему.
func (a *Assessor) Assess(inputs SensorInputs, classifier Classifier) (Assessment, error) {
	features := inputs.Features()

	if classifier == nil {
		p := a.fallbackProbability()
		return Assessment{
			Label:       0,
			Probability: p,
			Status:      Status(0, p),
			Source:      SourceFallback,
		}, nil
	}

	label, err := classifier.Predict(features)
	if err != nil {
		return Assessment{}, fmt.Errorf("classifier predict: %w", err)
	}

	probs, err := classifier.PredictProbability(features)
	if err != nil {
		return Assessment{}, fmt.Errorf("classifier predict probability: %w", err)
	}
	if len(probs) < 2 {
		return Assessment{}, fmt.Errorf("%w: expected 2 classes, got %d", ErrBadProbability, len(probs))
	}
	p := probs[1]
	if math.IsNaN(p) || p < 0 || p > 1 {
		return Assessment{}, fmt.Errorf("%w: p(class1) = %v", ErrBadProbability, p)
	}

	return Assessment{
		Label:       label,
		Probability: p,
		Status:      Status(label, p),
		Source:      SourceModel,
	}, nil
}

// fallbackProbability семплирует Beta(2, 18), смещённую к низким значениям
func (a *Assessor) fallbackProbability() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := distuv.Beta{Alpha: FallbackAlpha, Beta: FallbackBeta, Src: a.src}
	return math.Max(FallbackMin, math.Min(FallbackMax, b.Rand()))
}

// Status возвращает CRITICAL FAILURE, если label == 1 или p > 0.5.
// Вероятность учитывается независимо от метки классификатора.
func Status(label int, p float64) string {
	if label == 1 || p > CriticalThreshold {
		return StatusCritical
	}
	return StatusStable
}

// ForcedAlert возвращает результат принудительной тревоги, минуя классификатор
func ForcedAlert() Assessment {
	return Assessment{
		Label:       1,
		Probability: ForcedProbability,
		Status:      StatusCritical,
		Source:      SourceForced,
	}
}
