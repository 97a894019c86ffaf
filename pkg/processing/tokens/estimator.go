package tokens

import "unicode/utf8"

// DefaultCharsPerToken is the characters-per-token ratio used when none is
// configured.
const DefaultCharsPerToken = 4.0

// Estimator estimates token counts for text.
type Estimator interface {
	// EstimateText estimates tokens for a single text string.
	EstimateText(text string) int

	// EstimateTexts estimates the combined tokens of several strings.
	EstimateTexts(texts ...string) int
}

// SimpleEstimator implements character-based token estimation.
type SimpleEstimator struct {
	charsPerToken float64
}

// NewSimpleEstimator creates an estimator. A ratio <= 0 selects
// DefaultCharsPerToken.
func NewSimpleEstimator(charsPerToken float64) *SimpleEstimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &SimpleEstimator{charsPerToken: charsPerToken}
}

// EstimateText estimates tokens for a single text string.
func (e *SimpleEstimator) EstimateText(text string) int {
	if text == "" {
		return 0
	}

	chars := utf8.RuneCountInString(text)
	n := float64(chars) / e.charsPerToken
	if n < 1.0 {
		return 1
	}
	return int(n + 0.5)
}

// EstimateTexts sums EstimateText over texts.
func (e *SimpleEstimator) EstimateTexts(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += e.EstimateText(t)
	}
	return total
}

// Estimate is shorthand for the default estimator.
func Estimate(text string) int {
	return defaultEstimator.EstimateText(text)
}

var defaultEstimator = NewSimpleEstimator(DefaultCharsPerToken)
