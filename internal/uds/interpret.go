package uds

import "github.com/apittopti/diagflow/internal/trace"

// Interpret extracts the service id and service-specific fields from a wire
// message. The first payload byte is the service id; everything after it is
// decoded per service. Unknown service ids still produce a message (the id
// alone is a finding), so the only nil return is an empty payload.
func Interpret(w trace.WireMessage) *Message {
	p := w.Payload
	if len(p) == 0 {
		return nil
	}

	m := &Message{Wire: w, ServiceID: p[0]}

	switch m.ServiceID {
	case ServiceSessionControl:
		if len(p) >= 2 {
			m.Subfunction = byteRef(p[1])
			m.Session = &SessionInfo{Type: p[1]}
		}

	case ServiceReadDataByID, ResponseReadDataByID:
		if len(p) >= 3 {
			info := &DataIDInfo{DID: uint16(p[1])<<8 | uint16(p[2])}
			if m.ServiceID == ResponseReadDataByID && len(p) > 3 {
				info.Value = append([]byte(nil), p[3:]...)
			}
			m.DataID = info
		}

	case ServiceReadDTCInformation:
		if len(p) >= 2 {
			m.Subfunction = byteRef(p[1])
		}

	case ResponseReadDTCInformation:
		if len(p) >= 2 {
			m.Subfunction = byteRef(p[1])
			m.DTCReport = ParseDTCReport(p)
		}

	case ServiceRoutineControl:
		if len(p) >= 2 {
			m.Subfunction = byteRef(p[1])
		}
		if len(p) >= 4 {
			m.Routine = &RoutineInfo{
				Control: p[1],
				ID:      uint16(p[2])<<8 | uint16(p[3]),
			}
		}

	case ServiceSecurityAccess, ServiceTesterPresent:
		if len(p) >= 2 {
			m.Subfunction = byteRef(p[1])
		}
	}

	return m
}

// InterpretAll interprets a decoded trace in order, dropping empty frames.
func InterpretAll(wire []trace.WireMessage) []Message {
	msgs := make([]Message, 0, len(wire))
	for _, w := range wire {
		if m := Interpret(w); m != nil {
			msgs = append(msgs, *m)
		}
	}
	return msgs
}

func byteRef(b byte) *byte {
	return &b
}
