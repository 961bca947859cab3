package model

import (
	"math"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Position3D is a raw game-world coordinate in centimeters.
type Position3D struct {
	X float64 `json:"X"`
	Y float64 `json:"Y"`
	Z float64 `json:"Z"`
}

// DistanceTo returns the 3D Euclidean distance to other, in world units.
func (p Position3D) DistanceTo(other Position3D) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	dz := p.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// DistanceXY returns the planar distance to other, ignoring elevation.
func (p Position3D) DistanceXY(other Position3D) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Role is a server policy role assigned to a player.
type Role string

const (
	RolePlayer Role = "player"
	RolePolice Role = "police"
	RoleAdmin  Role = "admin"
)

// ParseRole normalizes a role string from the policy file.
// Unknown values fall back to the default player role.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "police":
		return RolePolice
	case "admin":
		return RoleAdmin
	default:
		return RolePlayer
	}
}

// Player is a player record as returned by the game server's API.
type Player struct {
	UniqueID   string     `json:"UniqueID"`
	Name       string     `json:"Name"`
	Location   Position3D `json:"Location"`
	VehicleKey string     `json:"VehicleKey"`
	IsAdmin    bool       `json:"bIsAdmin"`
}

// InVehicle reports whether the player currently occupies a vehicle.
// The game reports "None" for players on foot.
func (p Player) InVehicle() bool {
	return p.VehicleKey != "" && p.VehicleKey != "None"
}

// NPCVehicle is an AI-driven vehicle record from the game server's API.
type NPCVehicle struct {
	UniqueID   string     `json:"UniqueID"`
	VehicleKey string     `json:"VehicleKey"`
	Location   Position3D `json:"Location"`
}

// Garage is a garage location in the world. Entities near a garage are
// exempt from speed enforcement to mask teleport artifacts.
type Garage struct {
	Name     string     `json:"Name"`
	Location Position3D `json:"Location"`
}

// PlayerStatus is the simplified per-player view served by the read API
// and pushed to live stream subscribers.
type PlayerStatus struct {
	X          float64 `json:"X"`
	Y          float64 `json:"Y"`
	Z          float64 `json:"Z"`
	Name       string  `json:"Name"`
	VehicleKey string  `json:"VehicleKey"`
	UniqueID   string  `json:"UniqueID"`
	SpeedKMH   float64 `json:"SpeedKMH"`
	PlayerType string  `json:"PlayerType"`
}

// AssetPlacement is one declared world object in a map-modifications file.
type AssetPlacement struct {
	Path  string  `json:"path"`
	X     float64 `json:"X"`
	Y     float64 `json:"Y"`
	Z     float64 `json:"Z"`
	Pitch float64 `json:"Pitch"`
	Roll  float64 `json:"Roll"`
	Yaw   float64 `json:"Yaw"`
}

// DealerVehicle is one declared dealership vehicle in a
// dealership-modifications file.
type DealerVehicle struct {
	VehicleKey string  `json:"vehicleKey"`
	X          float64 `json:"X"`
	Y          float64 `json:"Y"`
	Z          float64 `json:"Z"`
	Yaw        float64 `json:"Yaw"`
	Price      int64   `json:"price,omitempty"`
}

// ActionKind identifies a side-effecting enforcement action.
type ActionKind string

const (
	ActionEject   ActionKind = "eject"
	ActionFine    ActionKind = "fine"
	ActionMessage ActionKind = "message"
	ActionPayout  ActionKind = "payout"
)

// ActionRecord captures one enforcement or settlement action for
// metrics export.
type ActionRecord struct {
	Kind     ActionKind
	Rule     string
	UniqueID string
	Name     string
	Amount   int64
	SpeedKMH float64
	Time     time.Time
}

// AppliedState is the durable reconciler bookkeeping: the set of remote
// tags last applied for a declarative file, plus the content hash of the
// declaration they came from. One row per reconciler domain.
type AppliedState struct {
	Name        string         `json:"name" gorm:"primaryKey;size:64"`
	Tags        datatypes.JSON `json:"tags"`
	ContentHash string         `json:"contentHash" gorm:"size:64"`
	AppliedAt   time.Time      `json:"appliedAt"`
}

func (*AppliedState) TableName() string {
	return "applied_states"
}

// DatabaseModels lists every struct migrated into the local state database.
var DatabaseModels = []interface{}{
	&AppliedState{},
}
