package trace

// Direction indicates which party sent a wire message.
type Direction string

const (
	// DirectionRequest is tester -> ECU ("Local->Remote" in the trace).
	DirectionRequest Direction = "request"
	// DirectionResponse is ECU -> tester ("Remote->Local" in the trace).
	DirectionResponse Direction = "response"
)

// WireMessage is one decoded trace record. Messages are immutable once
// decoded and are kept in trace order; they are never re-sorted.
type WireMessage struct {
	Timestamp string    `json:"timestamp"`
	Direction Direction `json:"direction"`
	Protocol  string    `json:"protocol"`
	Source    string    `json:"source,omitempty"` // uppercase hex, no 0x prefix
	Target    string    `json:"target,omitempty"`
	Payload   []byte    `json:"payload"`
	Line      int       `json:"line"`
}

// Stats counts the outcome of one decode pass over a trace.
type Stats struct {
	Lines   int `json:"lines"`
	Decoded int `json:"decoded"`
	Skipped int `json:"skipped"`
}
