package uds

import "fmt"

// Diagnostic service identifiers (request side unless noted).
const (
	ServiceSessionControl     byte = 0x10
	ServiceECUReset           byte = 0x11
	ServiceClearDiagnostics   byte = 0x14
	ServiceReadDTCInformation byte = 0x19
	ServiceReadDataByID       byte = 0x22
	ServiceSecurityAccess     byte = 0x27
	ServiceCommunicationCtl   byte = 0x28
	ServiceWriteDataByID      byte = 0x2E
	ServiceRoutineControl     byte = 0x31
	ServiceRequestDownload    byte = 0x34
	ServiceTransferData       byte = 0x36
	ServiceTransferExit       byte = 0x37
	ServiceTesterPresent      byte = 0x3E
	ServiceControlDTCSetting  byte = 0x85
)

// Positive responses are request id + 0x40.
const (
	ResponseSessionControl     byte = 0x50
	ResponseReadDTCInformation byte = 0x59
	ResponseReadDataByID       byte = 0x62
	ResponseSecurityAccess     byte = 0x67
	ResponseRoutineControl     byte = 0x71
	ResponseTesterPresent      byte = 0x7E
	ResponseNegative           byte = 0x7F
)

var serviceNames = map[byte]string{
	ServiceSessionControl:      "DiagnosticSessionControl",
	ServiceECUReset:            "ECUReset",
	ServiceClearDiagnostics:    "ClearDiagnosticInformation",
	ServiceReadDTCInformation:  "ReadDTCInformation",
	ServiceReadDataByID:        "ReadDataByIdentifier",
	ServiceSecurityAccess:      "SecurityAccess",
	ServiceCommunicationCtl:    "CommunicationControl",
	ServiceWriteDataByID:       "WriteDataByIdentifier",
	ServiceRoutineControl:      "RoutineControl",
	ServiceRequestDownload:     "RequestDownload",
	ServiceTransferData:        "TransferData",
	ServiceTransferExit:        "RequestTransferExit",
	ServiceTesterPresent:       "TesterPresent",
	ServiceControlDTCSetting:   "ControlDTCSetting",
	ResponseSessionControl:     "DiagnosticSessionControlResponse",
	ResponseReadDTCInformation: "ReadDTCInformationResponse",
	ResponseReadDataByID:       "ReadDataByIdentifierResponse",
	ResponseSecurityAccess:     "SecurityAccessResponse",
	ResponseRoutineControl:     "RoutineControlResponse",
	ResponseTesterPresent:      "TesterPresentResponse",
	ResponseNegative:           "NegativeResponse",
}

// ServiceLabel returns the conventional name for a service id, or the id in
// 0xNN form when it has none. Manufacturer-specific ids are expected and are
// not an error.
func ServiceLabel(id byte) string {
	if name, ok := serviceNames[id]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", id)
}

// ServiceName returns the conventional name for a service id, if it has one.
func ServiceName(id byte) (string, bool) {
	name, ok := serviceNames[id]
	return name, ok
}

// RoutineControl subfunctions.
const (
	RoutineStart          byte = 0x01
	RoutineStop           byte = 0x02
	RoutineRequestResults byte = 0x03
)

// RoutineActionLabel maps a routine control subfunction to its action name.
func RoutineActionLabel(sub byte) string {
	switch sub {
	case RoutineStart:
		return "START"
	case RoutineStop:
		return "STOP"
	case RoutineRequestResults:
		return "REQUEST_RESULTS"
	default:
		return fmt.Sprintf("0x%02X", sub)
	}
}

// Diagnostic session types (DiagnosticSessionControl subfunction).
var sessionNames = map[byte]string{
	0x01: "Default",
	0x02: "Programming",
	0x03: "Extended",
	0x04: "SafetySystem",
}

// SessionLabel returns the session type name, or the raw value in 0xNN form.
func SessionLabel(sub byte) string {
	if name, ok := sessionNames[sub]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", sub)
}
