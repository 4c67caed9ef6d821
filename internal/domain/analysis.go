package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// AnalysisResult is one normalized classifier verdict for one sampled frame.
// Params: distress/submerged flags, confidence, free-text description, and mock marker.
// Returns: transient payload consumed once by the detection state machine.
type AnalysisResult struct {
	Distress    bool    `json:"distress"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
	Submerged   bool    `json:"submerged,omitempty"`
	Mock        bool    `json:"mock,omitempty"`
}

// SafeResult builds a non-distress result carrying failure context.
// Params: description text (usually an error message).
// Returns: well-formed negative result so the sampling loop never stops.
func SafeResult(description string) AnalysisResult {
	return AnalysisResult{
		Distress:    false,
		Confidence:  0,
		Description: description,
		Submerged:   false,
	}
}

// MockResult builds the degraded-mode result used when no classifier is configured.
// Params: none.
// Returns: non-distress result flagged as mock.
func MockResult() AnalysisResult {
	return AnalysisResult{
		Distress:    false,
		Confidence:  0,
		Description: "classifier not configured, running in mock mode",
		Mock:        true,
	}
}

// DecodeAnalysisResult decodes and validates one classifier verdict document.
// Params: strict JSON bytes matching the classifier contract.
// Returns: validated result or decode/validation error.
func DecodeAnalysisResult(raw []byte) (AnalysisResult, error) {
	var result AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return AnalysisResult{}, fmt.Errorf("decode analysis result: %w", err)
	}
	if err := result.Validate(); err != nil {
		return AnalysisResult{}, err
	}
	return result, nil
}

// Validate validates one analysis result against the contract.
// Params: result fields parsed from transport.
// Returns: validation error when confidence is out of range.
func (r AnalysisResult) Validate() error {
	if r.Confidence < 0 || r.Confidence > 1 {
		return errors.New("confidence must be within [0,1]")
	}
	return nil
}
