package odx

import (
	"fmt"
	"sort"

	"github.com/apittopti/diagflow/internal/discovery"
	"github.com/apittopti/diagflow/internal/uds"
)

// Synthesize builds the document set for one vehicle from a discovery
// result. Entries within each document are sorted by identifier so repeated
// synthesis of the same result is byte-for-byte identical.
func Synthesize(res *discovery.Result, vehicleID string) *DocumentSet {
	set := &DocumentSet{
		Vehicle: VehicleDocument{
			ShortName:    "VEHICLE_" + vehicleID,
			VehicleID:    vehicleID,
			ECUAddresses: append([]string(nil), res.Addresses...),
		},
		Protocol: ProtocolDocument{
			ShortName: "PROTOCOL_UDS",
			Protocols: append([]string(nil), res.Protocols...),
		},
		CommParams: CommParamDocument{
			ShortName:       "COMPARAM_DOIP",
			AddressingMode:  "extended/18DA",
			TesterAddresses: append([]string(nil), res.Testers...),
		},
	}

	for _, addr := range res.Addresses {
		set.ECUs = append(set.ECUs, synthesizeECU(res.ECUs[addr]))
	}

	return set
}

func synthesizeECU(e *discovery.ECU) *ECUDocument {
	doc := &ECUDocument{
		ShortName: "ECU_" + e.Address,
		Address:   e.Address,
	}

	serviceIDs := make([]int, 0, len(e.Services))
	for id := range e.Services {
		serviceIDs = append(serviceIDs, int(id))
	}
	sort.Ints(serviceIDs)
	for _, id := range serviceIDs {
		stats := e.Services[byte(id)]
		doc.Services = append(doc.Services, ServiceEntry{
			ID:         fmt.Sprintf("%02X", id),
			Name:       stats.Name,
			Parameters: serviceTemplate(byte(id)),
		})
	}

	codes := make([]string, 0, len(e.DTCs))
	for code := range e.DTCs {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		info := e.DTCs[code]
		doc.DTCs = append(doc.DTCs, DTCEntry{
			Code:     code,
			Category: DTCCategory(code),
			FMI:      uds.FMIFromCode(code),
			Status:   fmt.Sprintf("%02X", info.StatusMask),
		})
	}

	didIDs := make([]int, 0, len(e.DIDs))
	for id := range e.DIDs {
		didIDs = append(didIDs, int(id))
	}
	sort.Ints(didIDs)
	for _, id := range didIDs {
		info := e.DIDs[uint16(id)]
		doc.DIDs = append(doc.DIDs, DIDEntry{
			ID:         fmt.Sprintf("%04X", id),
			Name:       info.Name,
			DataLength: info.DataLength,
			DataType:   info.DataType,
		})
	}

	routineIDs := make([]int, 0, len(e.Routines))
	for id := range e.Routines {
		routineIDs = append(routineIDs, int(id))
	}
	sort.Ints(routineIDs)
	for _, id := range routineIDs {
		info := e.Routines[uint16(id)]
		doc.Routines = append(doc.Routines, RoutineEntry{
			ID:      fmt.Sprintf("%04X", id),
			Name:    info.Name,
			Actions: routineActions(info),
		})
	}

	return doc
}

// serviceTemplate returns the positional parameter layout for the services
// whose payloads are decoded; other services have no template.
func serviceTemplate(id byte) []ParameterDef {
	switch id {
	case uds.ServiceSessionControl, uds.ResponseSessionControl,
		uds.ServiceReadDTCInformation, uds.ServiceSecurityAccess,
		uds.ResponseSecurityAccess, uds.ServiceTesterPresent,
		uds.ResponseTesterPresent:
		return []ParameterDef{
			{Name: "subFunction", Position: 1, Length: 1},
		}
	case uds.ServiceReadDataByID:
		return []ParameterDef{
			{Name: "dataIdentifier", Position: 1, Length: 2},
		}
	case uds.ResponseReadDataByID:
		return []ParameterDef{
			{Name: "dataIdentifier", Position: 1, Length: 2},
			{Name: "dataRecord", Position: 3, Length: 0},
		}
	case uds.ResponseReadDTCInformation:
		return []ParameterDef{
			{Name: "subFunction", Position: 1, Length: 1},
			{Name: "statusAvailabilityMask", Position: 2, Length: 1},
			{Name: "dtcRecords", Position: 3, Length: 0},
		}
	case uds.ServiceRoutineControl, uds.ResponseRoutineControl:
		return []ParameterDef{
			{Name: "routineControlType", Position: 1, Length: 1},
			{Name: "routineIdentifier", Position: 2, Length: 2},
		}
	default:
		return nil
	}
}

func routineActions(info *discovery.RoutineInfo) []string {
	controls := make([]int, 0, len(info.Actions))
	for c := range info.Actions {
		controls = append(controls, int(c))
	}
	sort.Ints(controls)

	actions := make([]string, len(controls))
	for i, c := range controls {
		actions[i] = uds.RoutineActionLabel(byte(c))
	}
	return actions
}
