package discovery

import "github.com/apittopti/diagflow/internal/knowledge"

// Confidence grading is count-based and monotonic: more observations never
// lower a grade. Thresholds are strict (a count must exceed them).

// ECUConfidence grades an ECU by the number of messages attributed to its
// address: more than 100 is HIGH, more than 20 is MEDIUM.
func ECUConfidence(messages int) knowledge.Confidence {
	switch {
	case messages > 100:
		return knowledge.ConfidenceHigh
	case messages > 20:
		return knowledge.ConfidenceMedium
	default:
		return knowledge.ConfidenceLow
	}
}

// ServiceConfidence grades a service by how often it was seen at one
// address: more than 50 is HIGH, more than 10 is MEDIUM.
func ServiceConfidence(count int) knowledge.Confidence {
	switch {
	case count > 50:
		return knowledge.ConfidenceHigh
	case count > 10:
		return knowledge.ConfidenceMedium
	default:
		return knowledge.ConfidenceLow
	}
}

// OccurrenceConfidence grades DTCs, data identifiers and routines by
// occurrence count: more than 5 is HIGH, more than 2 is MEDIUM.
func OccurrenceConfidence(count int) knowledge.Confidence {
	switch {
	case count > 5:
		return knowledge.ConfidenceHigh
	case count > 2:
		return knowledge.ConfidenceMedium
	default:
		return knowledge.ConfidenceLow
	}
}
