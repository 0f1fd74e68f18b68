// Package knownids holds names for well-known diagnostic identifiers:
// standard UDS data identifiers and routine ids. Lookups never guess — an
// identifier that is not in the table has no name.
package knownids

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Table maps identifiers to display names.
type Table struct {
	dids     map[uint16]string
	routines map[uint16]string
}

// Standard returns the built-in table: ISO 14229 identification DIDs and the
// standard memory routines.
func Standard() *Table {
	return &Table{
		dids: map[uint16]string{
			0xF180: "Boot Software Identification",
			0xF181: "Application Software Identification",
			0xF182: "Application Data Identification",
			0xF186: "Active Diagnostic Session",
			0xF187: "Vehicle Manufacturer Spare Part Number",
			0xF188: "Vehicle Manufacturer ECU Software Number",
			0xF189: "Vehicle Manufacturer ECU Software Version",
			0xF18A: "System Supplier Identifier",
			0xF18B: "ECU Manufacturing Date",
			0xF18C: "ECU Serial Number",
			0xF190: "VIN",
			0xF191: "Vehicle Manufacturer ECU Hardware Number",
			0xF192: "System Supplier ECU Hardware Number",
			0xF193: "System Supplier ECU Hardware Version",
			0xF194: "System Supplier ECU Software Number",
			0xF195: "System Supplier ECU Software Version",
			0xF197: "System Name",
			0xF198: "Repair Shop Code",
			0xF199: "Programming Date",
			0xF19D: "ECU Installation Date",
			0xF19E: "ODX File Identifier",
		},
		routines: map[uint16]string{
			0xFF00: "Erase Memory",
			0xFF01: "Check Programming Dependencies",
		},
	}
}

// Empty returns a table with no entries.
func Empty() *Table {
	return &Table{
		dids:     map[uint16]string{},
		routines: map[uint16]string{},
	}
}

// DIDName returns the name for a data identifier, if known.
func (t *Table) DIDName(id uint16) (string, bool) {
	name, ok := t.dids[id]
	return name, ok
}

// RoutineName returns the name for a routine id, if known.
func (t *Table) RoutineName(id uint16) (string, bool) {
	name, ok := t.routines[id]
	return name, ok
}

// Len reports how many identifiers the table names.
func (t *Table) Len() int {
	return len(t.dids) + len(t.routines)
}

// overlayFile is the YAML shape for deployment-specific names. Keys are hex
// identifiers ("F190", "0x0203").
type overlayFile struct {
	DIDs     map[string]string `yaml:"dids"`
	Routines map[string]string `yaml:"routines"`
}

// LoadOverlay merges names from a YAML file into the table. Overlay entries
// win over built-in names.
func (t *Table) LoadOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read overlay: %w", err)
	}

	var file overlayFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse overlay: %w", err)
	}

	for key, name := range file.DIDs {
		id, err := parseHexID(key)
		if err != nil {
			return fmt.Errorf("did %q: %w", key, err)
		}
		t.dids[id] = name
	}
	for key, name := range file.Routines {
		id, err := parseHexID(key)
		if err != nil {
			return fmt.Errorf("routine %q: %w", key, err)
		}
		t.routines[id] = name
	}

	return nil
}

func parseHexID(s string) (uint16, error) {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("not a 16-bit hex identifier: %w", err)
	}
	return uint16(v), nil
}
