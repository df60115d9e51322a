package ai

import (
	"context"
	"errors"
	"image"
	"math"
	"sync"
)

// ErrClosed is returned by a classifier used after Close
var ErrClosed = errors.New("classifier closed")

// Prediction is the top label for one image with its confidence in [0,100]
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classifier assigns a label to a still image.
// Implementations must be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (Prediction, error)
	Close() error
}

// ClassifierFunc adapts a plain function to the Classifier interface
type ClassifierFunc func(ctx context.Context, img image.Image) (Prediction, error)

// Classify calls f
func (f ClassifierFunc) Classify(ctx context.Context, img image.Image) (Prediction, error) {
	return f(ctx, img)
}

// Close is a no-op for function classifiers
func (f ClassifierFunc) Close() error {
	return nil
}

// LazyClassifier defers loading the underlying model until first use.
// A failed load is remembered and returned on every later call.
type LazyClassifier struct {
	load func() (Classifier, error)

	once sync.Once
	c    Classifier
	err  error
}

// NewLazyClassifier wraps a loader
func NewLazyClassifier(load func() (Classifier, error)) *LazyClassifier {
	return &LazyClassifier{load: load}
}

// Load forces the underlying model to load
func (l *LazyClassifier) Load() error {
	l.once.Do(func() {
		l.c, l.err = l.load()
	})
	return l.err
}

// Classify loads the model if needed and delegates
func (l *LazyClassifier) Classify(ctx context.Context, img image.Image) (Prediction, error) {
	if err := l.Load(); err != nil {
		return Prediction{}, err
	}
	return l.c.Classify(ctx, img)
}

// Close releases the underlying model if it was loaded and prevents later loads
func (l *LazyClassifier) Close() error {
	l.once.Do(func() {
		l.err = ErrClosed
	})
	if l.c == nil {
		return nil
	}
	return l.c.Close()
}

// softmax converts logits to probabilities
func softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}

	maxLogit := float64(logits[0])
	for _, l := range logits[1:] {
		maxLogit = math.Max(maxLogit, float64(l))
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(float64(l) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// argmax returns the index of the largest value, first on ties
func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// Round2 rounds to two decimal places
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
