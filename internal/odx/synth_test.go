package odx

import (
	"log/slog"
	"testing"

	"github.com/apittopti/diagflow/internal/discovery"
	"github.com/apittopti/diagflow/internal/knownids"
	"github.com/apittopti/diagflow/internal/trace"
	"github.com/apittopti/diagflow/internal/uds"
)

func observe(t *testing.T, s *discovery.Session, dir trace.Direction, source, target string, payload ...byte) {
	t.Helper()
	m := uds.Interpret(trace.WireMessage{
		Timestamp: "t",
		Direction: dir,
		Protocol:  "DoIP",
		Source:    source,
		Target:    target,
		Payload:   payload,
	})
	if m == nil {
		t.Fatal("payload did not interpret")
	}
	s.Observe(*m)
}

func fixtureResult(t *testing.T) *discovery.Result {
	t.Helper()
	s := discovery.NewSession(knownids.Standard(), slog.Default())
	observe(t, s, trace.DirectionRequest, "F1", "10", 0x22, 0xF1, 0x90)
	observe(t, s, trace.DirectionResponse, "10", "F1", 0x62, 0xF1, 0x90, 0x41, 0x42, 0x43)
	observe(t, s, trace.DirectionResponse, "10", "F1", 0x59, 0x02, 0xFF, 0x03, 0x00, 0x81)
	observe(t, s, trace.DirectionRequest, "F1", "40", 0x31, 0x01, 0xFF, 0x00)
	observe(t, s, trace.DirectionRequest, "F1", "40", 0x31, 0x03, 0xFF, 0x00)
	return s.Result()
}

func findECUDoc(set *DocumentSet, addr string) *ECUDocument {
	for _, doc := range set.ECUs {
		if doc.Address == addr {
			return doc
		}
	}
	return nil
}

func TestSynthesize_VehicleAndSharedLayers(t *testing.T) {
	set := Synthesize(fixtureResult(t), "veh-001")

	if set.Vehicle.ShortName != "VEHICLE_veh-001" || set.Vehicle.VehicleID != "veh-001" {
		t.Errorf("unexpected vehicle descriptor: %+v", set.Vehicle)
	}
	if len(set.Vehicle.ECUAddresses) != 2 || set.Vehicle.ECUAddresses[0] != "10" || set.Vehicle.ECUAddresses[1] != "40" {
		t.Errorf("expected addresses [10 40], got %v", set.Vehicle.ECUAddresses)
	}
	if len(set.Protocol.Protocols) != 1 || set.Protocol.Protocols[0] != "DoIP" {
		t.Errorf("expected protocol DoIP, got %v", set.Protocol.Protocols)
	}
	if len(set.CommParams.TesterAddresses) != 1 || set.CommParams.TesterAddresses[0] != "F1" {
		t.Errorf("expected tester F1, got %v", set.CommParams.TesterAddresses)
	}
	if set.CommParams.AddressingMode == "" {
		t.Error("expected an addressing mode")
	}
}

func TestSynthesize_ECUServices(t *testing.T) {
	set := Synthesize(fixtureResult(t), "veh-001")

	ecu := findECUDoc(set, "10")
	if ecu == nil {
		t.Fatal("missing ECU document for 10")
	}
	if ecu.ShortName != "ECU_10" {
		t.Errorf("expected ECU_10, got %q", ecu.ShortName)
	}
	if len(ecu.Services) != 3 {
		t.Fatalf("expected 3 services, got %+v", ecu.Services)
	}

	read := ecu.Services[0]
	if read.ID != "22" || read.Name != "ReadDataByIdentifier" {
		t.Errorf("unexpected first service: %+v", read)
	}
	if len(read.Parameters) != 1 || read.Parameters[0].Name != "dataIdentifier" || read.Parameters[0].Length != 2 {
		t.Errorf("unexpected ReadDataByIdentifier template: %+v", read.Parameters)
	}

	report := ecu.Services[1]
	if report.ID != "59" {
		t.Fatalf("expected 59 second, got %s", report.ID)
	}
	if len(report.Parameters) != 3 || report.Parameters[1].Name != "statusAvailabilityMask" {
		t.Errorf("unexpected report template: %+v", report.Parameters)
	}
	if last := report.Parameters[2]; last.Name != "dtcRecords" || last.Length != 0 {
		t.Errorf("expected open-ended dtcRecords, got %+v", last)
	}

	readResp := ecu.Services[2]
	if readResp.ID != "62" || len(readResp.Parameters) != 2 || readResp.Parameters[1].Name != "dataRecord" {
		t.Errorf("unexpected response template: %+v", readResp)
	}
}

func TestSynthesize_Entries(t *testing.T) {
	set := Synthesize(fixtureResult(t), "veh-001")

	ecu := findECUDoc(set, "10")
	if len(ecu.DTCs) != 1 {
		t.Fatalf("expected 1 DTC, got %+v", ecu.DTCs)
	}
	dtc := ecu.DTCs[0]
	if dtc.Code != "P0300" {
		t.Errorf("expected P0300, got %s", dtc.Code)
	}
	if dtc.Category != "Powertrain (SAE standard)" {
		t.Errorf("unexpected category %q", dtc.Category)
	}
	if dtc.Status != "81" {
		t.Errorf("expected status 81, got %q", dtc.Status)
	}
	if dtc.FMI != "" {
		t.Errorf("a bare code has no failure mode, got %q", dtc.FMI)
	}

	if len(ecu.DIDs) != 1 {
		t.Fatalf("expected 1 DID, got %+v", ecu.DIDs)
	}
	did := ecu.DIDs[0]
	if did.ID != "F190" || did.Name != "VIN" {
		t.Errorf("unexpected DID entry: %+v", did)
	}
	if did.DataLength != 3 || did.DataType != "ascii" {
		t.Errorf("expected 3-byte ascii, got %d %q", did.DataLength, did.DataType)
	}

	gateway := findECUDoc(set, "40")
	if gateway == nil || len(gateway.Routines) != 1 {
		t.Fatalf("expected 1 routine on 40, got %+v", gateway)
	}
	routine := gateway.Routines[0]
	if routine.ID != "FF00" || routine.Name != "Erase Memory" {
		t.Errorf("unexpected routine entry: %+v", routine)
	}
	if len(routine.Actions) != 2 || routine.Actions[0] != "START" || routine.Actions[1] != "REQUEST_RESULTS" {
		t.Errorf("expected [START REQUEST_RESULTS], got %v", routine.Actions)
	}
}

func TestSynthesize_FMIForSuffixedCode(t *testing.T) {
	s := discovery.NewSession(nil, slog.Default())

	// 44 record bytes: 22 two-byte records are implausible, so the four-byte
	// layout wins and the codes carry an FMI byte.
	payload := []byte{0x59, 0x02, 0xFF}
	for i := 0; i < 11; i++ {
		payload = append(payload, 0x00, 0x35, 0x13, 0xE5)
	}
	observe(t, s, trace.DirectionResponse, "10", "F1", payload...)

	set := Synthesize(s.Result(), "veh-001")
	ecu := findECUDoc(set, "10")
	if ecu == nil || len(ecu.DTCs) == 0 {
		t.Fatalf("expected a DTC, got %+v", ecu)
	}
	dtc := ecu.DTCs[0]
	if dtc.Code != "P0035-13" {
		t.Fatalf("expected P0035-13, got %s", dtc.Code)
	}
	if dtc.FMI != "Circuit open" {
		t.Errorf("expected the failure-mode meaning, got %q", dtc.FMI)
	}
}

func TestDTCCategory(t *testing.T) {
	tests := []struct {
		code     string
		expected string
	}{
		{"P0300", "Powertrain (SAE standard)"},
		{"P1234", "Powertrain (manufacturer specific)"},
		{"C0561", "Chassis (SAE standard)"},
		{"B1045", "Body (manufacturer specific)"},
		{"U0128", "Network (SAE standard)"},
		{"X0300", ""},
		{"P", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := DTCCategory(tt.code); got != tt.expected {
			t.Errorf("DTCCategory(%q) = %q, expected %q", tt.code, got, tt.expected)
		}
	}
}
