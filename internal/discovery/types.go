// Package discovery folds interpreted diagnostic messages into structured
// knowledge: which ECUs exist, which services they expose, and which DTCs,
// data identifiers and routines were observed for them.
package discovery

import "github.com/apittopti/diagflow/internal/knowledge"

const (
	// maxSampleValues bounds how many distinct values are kept per DID.
	maxSampleValues = 5
	// maxPatternExamples bounds how many raw payloads a pattern keeps.
	maxPatternExamples = 3
	// maxDTCContexts bounds how many observation timestamps a DTC keeps.
	maxDTCContexts = 25
)

// ECU accumulates everything observed for one diagnostic address. ECUs are
// never given display names here: naming is a curation concern and guessing
// produces wrong labels that stick.
type ECU struct {
	Address    string                  `json:"address"`
	Services   map[byte]*ServiceStats  `json:"services"`
	DIDs       map[uint16]*DIDInfo     `json:"dids"`
	DTCs       map[string]*DTCInfo     `json:"dtcs"`
	Routines   map[uint16]*RoutineInfo `json:"routines"`
	Messages   int                     `json:"messages"`
	FirstSeen  string                  `json:"firstSeen"`
	LastSeen   string                  `json:"lastSeen"`
	Confidence knowledge.Confidence    `json:"confidence"`
}

// ServiceStats counts sightings of one service at one address.
type ServiceStats struct {
	ID         byte                 `json:"id"`
	Name       string               `json:"name"`
	Count      int                  `json:"count"`
	Confidence knowledge.Confidence `json:"confidence"`
}

// DIDInfo describes one data identifier observed at an address. Name comes
// only from known-identifier tables; DataLength and DataType are inferred
// from the first response value seen.
type DIDInfo struct {
	ID           uint16               `json:"id"`
	Name         string               `json:"name,omitempty"`
	DataLength   int                  `json:"dataLength"`
	DataType     string               `json:"dataType,omitempty"`
	SampleValues []string             `json:"sampleValues,omitempty"`
	Occurrences  int                  `json:"occurrences"`
	Confidence   knowledge.Confidence `json:"confidence"`
}

// DTCInfo describes one diagnostic trouble code observed at an address.
type DTCInfo struct {
	Code        string               `json:"code"`
	StatusMask  byte                 `json:"statusMask"`
	Occurrences int                  `json:"occurrences"`
	Contexts    []string             `json:"contexts,omitempty"`
	Confidence  knowledge.Confidence `json:"confidence"`
}

// RoutineInfo describes one routine id and the control actions seen for it.
type RoutineInfo struct {
	ID          uint16               `json:"id"`
	Name        string               `json:"name,omitempty"`
	Actions     map[byte]bool        `json:"-"`
	Occurrences int                  `json:"occurrences"`
	Confidence  knowledge.Confidence `json:"confidence"`
}

// Pattern is an audit record for one inferred byte-layout choice, kept so a
// reviewer can see why records were cut the way they were.
type Pattern struct {
	Type        string               `json:"type"`
	ECUAddress  string               `json:"ecuAddress"`
	Confidence  knowledge.Confidence `json:"confidence"`
	Occurrences int                  `json:"occurrences"`
	Metadata    map[string]string    `json:"metadata"`
	Examples    []string             `json:"examples,omitempty"`
}

// Result is the finished output of one discovery session. Addresses,
// Protocols and Testers are in first-seen order.
type Result struct {
	ECUs         map[string]*ECU `json:"ecus"`
	Addresses    []string        `json:"addresses"`
	Patterns     []Pattern       `json:"patterns"`
	Protocols    []string        `json:"protocols,omitempty"`
	Testers      []string        `json:"testers,omitempty"`
	Messages     int             `json:"messages"`
	Unattributed int             `json:"unattributed"`
}
