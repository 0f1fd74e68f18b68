// Package odx assembles discovered diagnostic knowledge into the logical
// content of an ODX-style layer document set: one vehicle descriptor, one
// layer per ECU, a protocol layer and a communication-parameter layer. Only
// document content is produced here; markup belongs to whatever consumes the
// export sink.
package odx

// DocumentSet is the full export for one vehicle.
type DocumentSet struct {
	Vehicle    VehicleDocument   `json:"vehicle"`
	ECUs       []*ECUDocument    `json:"ecus"`
	Protocol   ProtocolDocument  `json:"protocol"`
	CommParams CommParamDocument `json:"commParams"`
}

// VehicleDocument is the top-level descriptor linking the ECU layers.
type VehicleDocument struct {
	ShortName    string   `json:"shortName"`
	VehicleID    string   `json:"vehicleId"`
	ECUAddresses []string `json:"ecuAddresses"`
}

// ECUDocument is one diagnostic layer: everything discovered for one address.
type ECUDocument struct {
	ShortName string         `json:"shortName"`
	Address   string         `json:"address"`
	Services  []ServiceEntry `json:"services"`
	DTCs      []DTCEntry     `json:"dtcs"`
	DIDs      []DIDEntry     `json:"dids"`
	Routines  []RoutineEntry `json:"routines"`
}

// ServiceEntry describes one diagnostic service and its request/response
// parameter template.
type ServiceEntry struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters []ParameterDef `json:"parameters,omitempty"`
}

// ParameterDef is one positional parameter in a service payload. Position is
// the byte offset from the start of the payload (the service id is byte 0);
// Length 0 means the parameter runs to the end of the payload.
type ParameterDef struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
	Length   int    `json:"length"`
}

// DTCEntry is one trouble code with its coarse category. The category comes
// from a classification table keyed on the code's first two characters and
// is a reading aid, not ground truth.
type DTCEntry struct {
	Code     string `json:"code"`
	Category string `json:"category,omitempty"`
	FMI      string `json:"fmi,omitempty"`
	Status   string `json:"status,omitempty"`
}

// DIDEntry is one data identifier with its observed value shape.
type DIDEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	DataLength int    `json:"dataLength,omitempty"`
	DataType   string `json:"dataType,omitempty"`
}

// RoutineEntry is one routine with the control actions seen for it.
type RoutineEntry struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Actions []string `json:"actions,omitempty"`
}

// ProtocolDocument names the transport stacks the trace was captured over.
type ProtocolDocument struct {
	ShortName string   `json:"shortName"`
	Protocols []string `json:"protocols"`
}

// CommParamDocument carries the addressing parameters shared by all layers.
type CommParamDocument struct {
	ShortName       string   `json:"shortName"`
	AddressingMode  string   `json:"addressingMode"`
	TesterAddresses []string `json:"testerAddresses,omitempty"`
}

// dtcCategories classifies codes by their first two characters.
var dtcCategories = map[string]string{
	"P0": "Powertrain (SAE standard)",
	"P1": "Powertrain (manufacturer specific)",
	"P2": "Powertrain (SAE standard)",
	"P3": "Powertrain (manufacturer specific)",
	"C0": "Chassis (SAE standard)",
	"C1": "Chassis (manufacturer specific)",
	"C2": "Chassis (manufacturer specific)",
	"C3": "Chassis (reserved)",
	"B0": "Body (SAE standard)",
	"B1": "Body (manufacturer specific)",
	"B2": "Body (manufacturer specific)",
	"B3": "Body (reserved)",
	"U0": "Network (SAE standard)",
	"U1": "Network (manufacturer specific)",
	"U2": "Network (manufacturer specific)",
	"U3": "Network (reserved)",
}

// DTCCategory returns the coarse category for a code, or "" when the code's
// first two characters match no class.
func DTCCategory(code string) string {
	if len(code) < 2 {
		return ""
	}
	return dtcCategories[code[:2]]
}
