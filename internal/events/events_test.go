package events

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestTraceStoredEventParsing(t *testing.T) {
	raw := `{
		"vehicle_id": "veh-001",
		"name": "cold-start.txt",
		"content": "12:00:00.100 | [Local]->[Remote] DATA => mod[doip] [DOIP] cmd[send] args[18DA10F1] data[10,01]"
	}`

	var ev TraceStoredEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("failed to parse TraceStoredEvent: %v", err)
	}

	if ev.VehicleID != "veh-001" {
		t.Errorf("expected vehicle_id 'veh-001', got '%s'", ev.VehicleID)
	}
	if ev.Name != "cold-start.txt" {
		t.Errorf("expected name 'cold-start.txt', got '%s'", ev.Name)
	}
	if ev.Path != "" {
		t.Errorf("expected empty path, got '%s'", ev.Path)
	}
	if !strings.Contains(ev.Content, "18DA10F1") {
		t.Errorf("expected trace content to survive, got '%s'", ev.Content)
	}
}

func TestJobCompletedEventOmitsEmptyError(t *testing.T) {
	ev := JobCompletedEvent{
		JobID:       "7c9e0000-0000-0000-0000-000000000000",
		VehicleID:   "veh-001",
		Status:      "completed",
		Lines:       120,
		Messages:    96,
		ECUs:        4,
		Definitions: 31,
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	if strings.Contains(string(data), "error") {
		t.Errorf("expected error field omitted when empty, got %s", data)
	}

	var parsed JobCompletedEvent
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if parsed != ev {
		t.Errorf("round-trip mismatch: got %+v, want %+v", parsed, ev)
	}
}

func TestSubjectConstants(t *testing.T) {
	subjects := []string{SubjectTraceStored, SubjectJobCompleted, SubjectDiscoveryCompleted}
	for _, s := range subjects {
		if !strings.HasPrefix(s, "diag.") {
			t.Errorf("expected diag. prefix on subject %q", s)
		}
	}
	if SubjectTraceStored != "diag.trace.stored" {
		t.Errorf("expected SubjectTraceStored 'diag.trace.stored', got '%s'", SubjectTraceStored)
	}
}
