package domain

import "testing"

func TestDecodeAnalysisResult(t *testing.T) {
	t.Parallel()

	result, err := DecodeAnalysisResult([]byte(`{"distress":true,"confidence":0.9,"description":"vertical posture","submerged":false}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Distress || result.Confidence != 0.9 || result.Submerged {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestDecodeAnalysisResultRejectsOutOfRangeConfidence(t *testing.T) {
	t.Parallel()

	if _, err := DecodeAnalysisResult([]byte(`{"distress":false,"confidence":1.5,"description":"x"}`)); err == nil {
		t.Fatalf("expected validation error for confidence > 1")
	}
}

func TestSeverityForBoundary(t *testing.T) {
	t.Parallel()

	cases := []struct {
		confidence float64
		want       Severity
	}{
		{0.5, SeverityMedium},
		{0.79, SeverityMedium},
		{0.8, SeverityHigh},
		{1.0, SeverityHigh},
	}
	for _, tc := range cases {
		if got := SeverityFor(tc.confidence); got != tc.want {
			t.Fatalf("confidence %v: expected %s, got %s", tc.confidence, tc.want, got)
		}
	}
}

func TestAlertValidate(t *testing.T) {
	t.Parallel()

	alert := Alert{FacilityID: "fac-1", Severity: SeverityMedium, TriggerType: TriggerDistress}
	if err := alert.Validate(); err != nil {
		t.Fatalf("valid alert rejected: %v", err)
	}

	alert.FacilityID = " "
	if err := alert.Validate(); err == nil {
		t.Fatalf("expected validation error for missing facility_id")
	}
}
