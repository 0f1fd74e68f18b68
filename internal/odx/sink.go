package odx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sink receives finished document sets for storage.
type Sink interface {
	Export(ctx context.Context, set *DocumentSet) error
}

// FileSink writes each layer as an indented JSON file under
// <Dir>/<vehicleID>/, merging with whatever set is already on disk so that
// repeated exports of a growing discovery never duplicate entities.
type FileSink struct {
	Dir string
}

func (s *FileSink) Export(ctx context.Context, set *DocumentSet) error {
	if set == nil {
		return errors.New("nil document set")
	}
	if err := checkPathComponent(set.Vehicle.VehicleID); err != nil {
		return fmt.Errorf("vehicle id: %w", err)
	}

	existing, err := LoadSet(s.Dir, set.Vehicle.VehicleID)
	if err != nil {
		return err
	}
	merged := Merge(existing, set)

	dir := filepath.Join(s.Dir, set.Vehicle.VehicleID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	if err := writeDoc(dir, "vehicle.json", merged.Vehicle); err != nil {
		return err
	}
	if err := writeDoc(dir, "protocol.json", merged.Protocol); err != nil {
		return err
	}
	if err := writeDoc(dir, "comm_params.json", merged.CommParams); err != nil {
		return err
	}
	for _, doc := range merged.ECUs {
		if err := writeDoc(dir, ecuFileName(doc.Address), doc); err != nil {
			return err
		}
	}
	return nil
}

// LoadSet reads a previously exported set. A vehicle with no export yet
// yields (nil, nil).
func LoadSet(root, vehicleID string) (*DocumentSet, error) {
	if err := checkPathComponent(vehicleID); err != nil {
		return nil, fmt.Errorf("vehicle id: %w", err)
	}

	dir := filepath.Join(root, vehicleID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read export dir: %w", err)
	}

	set := &DocumentSet{}
	found := false
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		switch {
		case entry.Name() == "vehicle.json":
			err = json.Unmarshal(data, &set.Vehicle)
		case entry.Name() == "protocol.json":
			err = json.Unmarshal(data, &set.Protocol)
		case entry.Name() == "comm_params.json":
			err = json.Unmarshal(data, &set.CommParams)
		case strings.HasPrefix(entry.Name(), "ecu_"):
			var doc ECUDocument
			if err = json.Unmarshal(data, &doc); err == nil {
				set.ECUs = append(set.ECUs, &doc)
			}
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", entry.Name(), err)
		}
		found = true
	}

	if !found {
		return nil, nil
	}
	return set, nil
}

func writeDoc(dir, name string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func ecuFileName(addr string) string {
	return "ecu_" + strings.ToLower(addr) + ".json"
}

func checkPathComponent(s string) error {
	if s == "" {
		return errors.New("empty")
	}
	if strings.ContainsAny(s, `/\`) || s == "." || s == ".." {
		return errors.New("contains path separators")
	}
	return nil
}
