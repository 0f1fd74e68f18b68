package uds

import "github.com/apittopti/diagflow/internal/trace"

// Message is an interpreted wire message: the raw frame plus the service id
// and whatever service-specific fields its byte layout yields. Exactly one of
// the info pointers is set for the services decoded in detail; all are nil
// for service ids the interpreter only records.
type Message struct {
	Wire        trace.WireMessage
	ServiceID   byte
	Subfunction *byte

	Session   *SessionInfo
	DataID    *DataIDInfo
	DTCReport *DTCReportInfo
	Routine   *RoutineInfo
}

// SessionInfo carries the DiagnosticSessionControl session type.
type SessionInfo struct {
	Type byte
}

// DataIDInfo carries the 2-byte data identifier and, on responses, the raw
// value bytes that follow it.
type DataIDInfo struct {
	DID   uint16
	Value []byte
}

// DTCReportInfo is the decoded body of a ReadDTCInformation response.
// Records is empty when the subfunction carries no record list or when no
// plausible record layout was found.
type DTCReportInfo struct {
	Subfunction byte
	StatusMask  *byte
	Records     []DTCRecord
	Layout      *LayoutChoice
}

// DTCRecord is one trouble-code record: the code bytes, their standard text
// form, and the trailing status byte.
type DTCRecord struct {
	Code      string
	CodeBytes []byte
	Status    byte
}

// LayoutChoice records how the record length was chosen for one report
// payload, including whether more than one candidate length was plausible.
type LayoutChoice struct {
	RecordLength int
	RecordCount  int
	Ambiguous    bool
	Candidates   []int
}

// RoutineInfo carries the RoutineControl action and 2-byte routine id.
type RoutineInfo struct {
	Control byte
	ID      uint16
}
