package discovery

import (
	"testing"

	"github.com/apittopti/diagflow/internal/knowledge"
)

func TestECUConfidence(t *testing.T) {
	tests := []struct {
		messages int
		expected knowledge.Confidence
	}{
		{0, knowledge.ConfidenceLow},
		{1, knowledge.ConfidenceLow},
		{20, knowledge.ConfidenceLow},
		{21, knowledge.ConfidenceMedium},
		{100, knowledge.ConfidenceMedium},
		{101, knowledge.ConfidenceHigh},
		{5000, knowledge.ConfidenceHigh},
	}

	for _, tt := range tests {
		if got := ECUConfidence(tt.messages); got != tt.expected {
			t.Errorf("ECUConfidence(%d) = %s, expected %s", tt.messages, got, tt.expected)
		}
	}
}

func TestServiceConfidence(t *testing.T) {
	tests := []struct {
		count    int
		expected knowledge.Confidence
	}{
		{1, knowledge.ConfidenceLow},
		{10, knowledge.ConfidenceLow},
		{11, knowledge.ConfidenceMedium},
		{50, knowledge.ConfidenceMedium},
		{51, knowledge.ConfidenceHigh},
	}

	for _, tt := range tests {
		if got := ServiceConfidence(tt.count); got != tt.expected {
			t.Errorf("ServiceConfidence(%d) = %s, expected %s", tt.count, got, tt.expected)
		}
	}
}

func TestOccurrenceConfidence(t *testing.T) {
	tests := []struct {
		count    int
		expected knowledge.Confidence
	}{
		{1, knowledge.ConfidenceLow},
		{2, knowledge.ConfidenceLow},
		{3, knowledge.ConfidenceMedium},
		{5, knowledge.ConfidenceMedium},
		{6, knowledge.ConfidenceHigh},
	}

	for _, tt := range tests {
		if got := OccurrenceConfidence(tt.count); got != tt.expected {
			t.Errorf("OccurrenceConfidence(%d) = %s, expected %s", tt.count, got, tt.expected)
		}
	}
}

func TestConfidenceIsMonotonic(t *testing.T) {
	grade := func(c knowledge.Confidence) int { return c.Rank() }

	for count := 1; count <= 200; count++ {
		if grade(ECUConfidence(count)) < grade(ECUConfidence(count-1)) {
			t.Fatalf("ECUConfidence dropped between %d and %d messages", count-1, count)
		}
		if grade(ServiceConfidence(count)) < grade(ServiceConfidence(count-1)) {
			t.Fatalf("ServiceConfidence dropped between %d and %d", count-1, count)
		}
		if grade(OccurrenceConfidence(count)) < grade(OccurrenceConfidence(count-1)) {
			t.Fatalf("OccurrenceConfidence dropped between %d and %d", count-1, count)
		}
	}
}
