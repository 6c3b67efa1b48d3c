// Package classifier загружает обученную модель отказа с диска
// Модель хранится в JSON как логистическая регрессия над 9 признаками
package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"

	"predmaint-service/internal/log"
	"predmaint-service/internal/risk"
)

// DefaultThreshold порог класса 1 по умолчанию
const DefaultThreshold = 0.5

var (
	// ErrInvalidModel возвращается для некорректного файла модели
	ErrInvalidModel = errors.New("classifier: invalid model")
	// ErrInvalidInput возвращается для вектора признаков с NaN или Inf
	ErrInvalidInput = errors.New("classifier: invalid feature vector")
)

// ModelFile формат файла модели
type ModelFile struct {
	Name      string    `json:"name"`
	Features  []string  `json:"features,omitempty"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
	Threshold float64   `json:"threshold,omitempty"`
}

// Logistic бинарный классификатор: p(class1) = sigmoid(w·x + b).
// После загрузки не изменяется и безопасен для параллельного использования.
type Logistic struct {
	name      string
	weights   []float64
	intercept float64
	threshold float64
}

// New создает классификатор из описания модели
func New(m ModelFile) (*Logistic, error) {
	if len(m.Weights) != risk.FeatureCount {
		return nil, fmt.Errorf("%w: expected %d weights, got %d", ErrInvalidModel, risk.FeatureCount, len(m.Weights))
	}
	if len(m.Features) != 0 && len(m.Features) != risk.FeatureCount {
		return nil, fmt.Errorf("%w: expected %d feature names, got %d", ErrInvalidModel, risk.FeatureCount, len(m.Features))
	}
	for i, w := range m.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: weight %d is not finite", ErrInvalidModel, i)
		}
	}
	if math.IsNaN(m.Intercept) || math.IsInf(m.Intercept, 0) {
		return nil, fmt.Errorf("%w: intercept is not finite", ErrInvalidModel)
	}

	threshold := m.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("%w: threshold %.3f outside (0, 1)", ErrInvalidModel, threshold)
	}

	w := make([]float64, len(m.Weights))
	copy(w, m.Weights)

	return &Logistic{
		name:      m.Name,
		weights:   w,
		intercept: m.Intercept,
		threshold: threshold,
	}, nil
}

// Load читает модель из JSON файла
func Load(path string) (*Logistic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}

	var m ModelFile
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}

	return New(m)
}

// LoadOrFallback загружает модель; при любой ошибке возвращает nil,
// что переводит оценку риска в режим fallback
func LoadOrFallback(path string) risk.Classifier {
	if path == "" {
		log.Infow("model path not set, running in fallback mode")
		return nil
	}

	model, err := Load(path)
	if err != nil {
		log.Warnw("model not loaded, running in fallback mode", "path", path, "error", err)
		return nil
	}

	log.Infow("model loaded", "path", path, "name", model.Name())
	return model
}

// Name возвращает имя модели
func (l *Logistic) Name() string {
	return l.name
}

// Predict возвращает метку класса (1 - отказ)
func (l *Logistic) Predict(v risk.FeatureVector) (int, error) {
	p, err := l.positive(v)
	if err != nil {
		return 0, err
	}
	if p >= l.threshold {
		return 1, nil
	}
	return 0, nil
}

// PredictProbability возвращает [p(class0), p(class1)]
func (l *Logistic) PredictProbability(v risk.FeatureVector) ([]float64, error) {
	p, err := l.positive(v)
	if err != nil {
		return nil, err
	}
	return []float64{1 - p, p}, nil
}

func (l *Logistic) positive(v risk.FeatureVector) (float64, error) {
	x := v[:]
	if floats.HasNaN(x) {
		return 0, fmt.Errorf("%w: contains NaN", ErrInvalidInput)
	}
	for i, f := range x {
		if math.IsInf(f, 0) {
			return 0, fmt.Errorf("%w: feature %d is infinite", ErrInvalidInput, i)
		}
	}

	z := floats.Dot(l.weights, x) + l.intercept
	return 1 / (1 + math.Exp(-z)), nil
}
