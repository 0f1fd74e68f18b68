package knowledge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind classifies what a definition describes.
type Kind string

const (
	KindECU     Kind = "ECU"
	KindService Kind = "SERVICE"
	KindDID     Kind = "DID"
	KindDTC     Kind = "DTC"
	KindRoutine Kind = "ROUTINE"
)

// Level is one ring of the specificity hierarchy.
type Level string

const (
	LevelVehicle   Level = "VEHICLE"
	LevelModelYear Level = "MODEL_YEAR"
	LevelModel     Level = "MODEL"
	LevelOEM       Level = "OEM"
	LevelGlobal    Level = "GLOBAL"
)

// LevelOrder lists levels from most to least specific. Resolution walks this
// list; GLOBAL is always consulted last.
var LevelOrder = [...]Level{LevelVehicle, LevelModelYear, LevelModel, LevelOEM, LevelGlobal}

// GlobalScope is the scope id shared by all GLOBAL-level definitions.
const GlobalScope = "global"

// Confidence grades how well-supported a finding is.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Rank orders confidence values for comparison; unknown values rank lowest.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

// Context scopes a resolution: which vehicle, and its ancestry, the caller is
// asking about. Empty fields mean the level is not known and is skipped.
type Context struct {
	OEMID       string `json:"oemId,omitempty"`
	ModelID     string `json:"modelId,omitempty"`
	ModelYearID string `json:"modelYearId,omitempty"`
	VehicleID   string `json:"vehicleId,omitempty"`
	ECUAddress  string `json:"ecuAddress,omitempty"`
}

// scope returns the scope id the context carries for a level. GLOBAL always
// resolves to the shared global scope.
func (c Context) scope(l Level) (string, bool) {
	switch l {
	case LevelVehicle:
		return c.VehicleID, c.VehicleID != ""
	case LevelModelYear:
		return c.ModelYearID, c.ModelYearID != ""
	case LevelModel:
		return c.ModelID, c.ModelID != ""
	case LevelOEM:
		return c.OEMID, c.OEMID != ""
	case LevelGlobal:
		return GlobalScope, true
	}
	return "", false
}

// Definition is the persisted, resolver-facing knowledge record. ECUAddress
// is empty for address-agnostic definitions. Payload is an opaque body the
// resolver hands back without inspecting.
type Definition struct {
	ID         uuid.UUID       `json:"id"`
	Kind       Kind            `json:"kind"`
	Identifier string          `json:"identifier"`
	Level      Level           `json:"level"`
	ScopeID    string          `json:"scopeId"`
	ECUAddress string          `json:"ecuAddress,omitempty"`
	Name       string          `json:"name,omitempty"`
	IsVerified bool            `json:"isVerified"`
	Confidence Confidence      `json:"confidence"`
	Version    int             `json:"version"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Source     string          `json:"source,omitempty"`
	CreatedAt  time.Time       `json:"createdAt,omitempty"`
	UpdatedAt  time.Time       `json:"updatedAt,omitempty"`
}

// Store is the narrow persistence boundary the resolver and the discovery
// flush depend on. Upsert reports whether a row was inserted; an existing
// row for the same (kind, identifier, level, scopeId, ecuAddress, version)
// tuple is left untouched.
type Store interface {
	Find(ctx context.Context, kind Kind, identifier string, level Level, scopeID, ecuAddress string) (*Definition, error)
	FindCandidates(ctx context.Context, kind Kind, identifier string, level Level, scopeID string) ([]Definition, error)
	FindMany(ctx context.Context, level Level, scopeID string, kind Kind) ([]Definition, error)
	Upsert(ctx context.Context, def *Definition) (bool, error)
}
