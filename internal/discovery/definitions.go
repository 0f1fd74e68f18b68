package discovery

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/apittopti/diagflow/internal/knowledge"
	"github.com/apittopti/diagflow/internal/uds"
)

// DefinitionSource marks definitions produced by a discovery flush.
const DefinitionSource = "discovery"

// Persisted payload bodies, one per definition kind.
type ecuPayload struct {
	Messages  int      `json:"messages"`
	FirstSeen string   `json:"firstSeen,omitempty"`
	LastSeen  string   `json:"lastSeen,omitempty"`
	Services  []string `json:"services"`
}

type servicePayload struct {
	Count int `json:"count"`
}

type didPayload struct {
	DataLength   int      `json:"dataLength,omitempty"`
	DataType     string   `json:"dataType,omitempty"`
	SampleValues []string `json:"sampleValues,omitempty"`
	Occurrences  int      `json:"occurrences"`
}

type dtcPayload struct {
	StatusMask  string   `json:"statusMask"`
	Occurrences int      `json:"occurrences"`
	Contexts    []string `json:"contexts,omitempty"`
}

type routinePayload struct {
	Actions     []string `json:"actions"`
	Occurrences int      `json:"occurrences"`
}

// BuildDefinitions turns a session result into vehicle-level definitions
// ready for the store. Every definition starts unverified at version 1; any
// row already persisted for the same identity wins downstream.
func BuildDefinitions(res *Result, vehicleID string) []knowledge.Definition {
	var defs []knowledge.Definition

	for _, addr := range res.Addresses {
		e := res.ECUs[addr]

		ecuDef := newDefinition(knowledge.KindECU, addr, vehicleID, e.Confidence, ecuPayload{
			Messages:  e.Messages,
			FirstSeen: e.FirstSeen,
			LastSeen:  e.LastSeen,
			Services:  serviceIDLabels(e.Services),
		})
		defs = append(defs, ecuDef)

		for _, id := range sortedServiceIDs(e.Services) {
			stats := e.Services[id]
			def := newDefinition(knowledge.KindService, fmt.Sprintf("%02X", id), vehicleID, stats.Confidence, servicePayload{
				Count: stats.Count,
			})
			def.ECUAddress = addr
			if name, ok := uds.ServiceName(id); ok {
				def.Name = name
			}
			defs = append(defs, def)
		}

		for _, id := range sortedDIDs(e.DIDs) {
			info := e.DIDs[id]
			def := newDefinition(knowledge.KindDID, fmt.Sprintf("%04X", id), vehicleID, info.Confidence, didPayload{
				DataLength:   info.DataLength,
				DataType:     info.DataType,
				SampleValues: info.SampleValues,
				Occurrences:  info.Occurrences,
			})
			def.ECUAddress = addr
			def.Name = info.Name
			defs = append(defs, def)
		}

		for _, code := range sortedDTCCodes(e.DTCs) {
			info := e.DTCs[code]
			def := newDefinition(knowledge.KindDTC, code, vehicleID, info.Confidence, dtcPayload{
				StatusMask:  fmt.Sprintf("%02X", info.StatusMask),
				Occurrences: info.Occurrences,
				Contexts:    info.Contexts,
			})
			def.ECUAddress = addr
			defs = append(defs, def)
		}

		for _, id := range sortedRoutineIDs(e.Routines) {
			info := e.Routines[id]
			def := newDefinition(knowledge.KindRoutine, fmt.Sprintf("%04X", id), vehicleID, info.Confidence, routinePayload{
				Actions:     actionLabels(info.Actions),
				Occurrences: info.Occurrences,
			})
			def.ECUAddress = addr
			def.Name = info.Name
			defs = append(defs, def)
		}
	}

	return defs
}

func newDefinition(kind knowledge.Kind, identifier, vehicleID string, conf knowledge.Confidence, payload any) knowledge.Definition {
	return knowledge.Definition{
		ID:         uuid.New(),
		Kind:       kind,
		Identifier: identifier,
		Level:      knowledge.LevelVehicle,
		ScopeID:    vehicleID,
		Confidence: conf,
		Version:    1,
		Payload:    marshalPayload(payload),
		Source:     DefinitionSource,
	}
}

func marshalPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func sortedServiceIDs(m map[byte]*ServiceStats) []byte {
	ids := make([]byte, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func serviceIDLabels(m map[byte]*ServiceStats) []string {
	ids := sortedServiceIDs(m)
	labels := make([]string, len(ids))
	for i, id := range ids {
		labels[i] = fmt.Sprintf("%02X", id)
	}
	return labels
}

func sortedDIDs(m map[uint16]*DIDInfo) []uint16 {
	ids := make([]uint16, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedDTCCodes(m map[string]*DTCInfo) []string {
	codes := make([]string, 0, len(m))
	for code := range m {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func sortedRoutineIDs(m map[uint16]*RoutineInfo) []uint16 {
	ids := make([]uint16, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func actionLabels(actions map[byte]bool) []string {
	controls := make([]byte, 0, len(actions))
	for c := range actions {
		controls = append(controls, c)
	}
	sort.Slice(controls, func(i, j int) bool { return controls[i] < controls[j] })

	labels := make([]string, len(controls))
	for i, c := range controls {
		labels[i] = uds.RoutineActionLabel(c)
	}
	return labels
}
