package enforce

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/aseanmotorclub/roadwatch/internal/geo"
	"github.com/aseanmotorclub/roadwatch/internal/model"
	"github.com/aseanmotorclub/roadwatch/internal/queue"
)

// Speed rule thresholds in km/h. Samples at or above the unreliable
// cutoff are treated as measurement artifacts and ignored.
const (
	SpeedLimitKMH      = 300.0
	UnreliableSpeedKMH = 600.0
)

// policeMarker flags restricted vehicles by key substring, case-insensitive.
const policeMarker = "police"

// Commander is the slice of the game API the engine fires commands through.
type Commander interface {
	EjectPlayer(ctx context.Context, uniqueID string) error
	AdjustMoney(ctx context.Context, uniqueID string, amount int64, reason string) error
	SendMessage(ctx context.Context, uniqueID, message string) error
}

// Executor runs side-effecting commands off the evaluation path.
// Submissions never block and failures never propagate back.
type Executor interface {
	Go(name string, fn func() error)
}

// GarageSource returns the garages known from the latest poll.
type GarageSource func() []model.Garage

// RoleSource returns the policy role for a player.
type RoleSource func(uniqueID string) model.Role

// Observation is one freshly-sampled player, with motion already derived.
type Observation struct {
	Player   model.Player
	SpeedKMH float64
	Prev     model.Position3D
	First    bool
}

// Engine evaluates policy rules against each observation and fires
// best-effort commands for violations, gated by per-rule cooldowns.
type Engine struct {
	client     Commander
	exec       Executor
	zones      geo.ZoneSet
	garages    GarageSource
	role       RoleSource
	cooldowns  *Cooldowns
	actions    *queue.Queue[model.ActionRecord]
	log        *slog.Logger
	policeFine int64
}

// New creates an enforcement engine.
func New(
	client Commander,
	exec Executor,
	zones geo.ZoneSet,
	garages GarageSource,
	role RoleSource,
	actions *queue.Queue[model.ActionRecord],
	policeFine int64,
	log *slog.Logger,
) *Engine {
	return &Engine{
		client:     client,
		exec:       exec,
		zones:      zones,
		garages:    garages,
		role:       role,
		cooldowns:  NewCooldowns(),
		actions:    actions,
		log:        log,
		policeFine: policeFine,
	}
}

// FineForSpeed computes the tiered fine for a measured speed. Tiers are
// disjoint and ordered; speeds below the limit fine nothing.
func FineForSpeed(speedKMH float64) int64 {
	switch {
	case speedKMH >= 500:
		over := speedKMH - 500
		return int64(math.Round(-20000 - over*over))
	case speedKMH >= 400:
		return int64(math.Round(-8000 - 40*(speedKMH-400)))
	case speedKMH >= SpeedLimitKMH:
		return int64(math.Round(-2000 - 10*(speedKMH-SpeedLimitKMH)))
	default:
		return 0
	}
}

// IsPoliceVehicle reports whether the vehicle key names a restricted
// police vehicle.
func IsPoliceVehicle(vehicleKey string) bool {
	return strings.Contains(strings.ToLower(vehicleKey), policeMarker)
}

// Evaluate runs both rules against one observation. Motion derivation for
// the entity has already happened this cycle; command dispatch is
// fire-and-forget so the polling cycle never stalls here.
func (e *Engine) Evaluate(obs Observation, now time.Time) {
	e.evaluateVehicleAccess(obs, now)
	e.evaluateSpeeding(obs, now)
}

func (e *Engine) evaluateVehicleAccess(obs Observation, now time.Time) {
	p := obs.Player
	if !IsPoliceVehicle(p.VehicleKey) {
		return
	}

	role := e.role(p.UniqueID)
	if role == model.RolePolice || role == model.RoleAdmin || p.IsAdmin {
		return
	}

	if !e.cooldowns.Allow(RuleVehicleAccess, p.UniqueID, VehicleAccessCooldown, now) {
		return
	}

	fine := e.policeFine
	reason := "Unauthorized use of a police vehicle"
	warning := fmt.Sprintf("You are not authorized to drive a police vehicle. You have been ejected and fined %d.", -fine)

	e.log.Info("police vehicle violation",
		"uniqueId", p.UniqueID, "name", p.Name, "vehicleKey", p.VehicleKey, "role", role)

	// Three independent best-effort commands; one failing must not block
	// the others.
	id := p.UniqueID
	e.exec.Go("eject", func() error {
		return e.client.EjectPlayer(context.Background(), id)
	})
	e.exec.Go("fine", func() error {
		return e.client.AdjustMoney(context.Background(), id, fine, reason)
	})
	e.exec.Go("message", func() error {
		return e.client.SendMessage(context.Background(), id, warning)
	})

	e.record(model.ActionRecord{
		Kind:     model.ActionEject,
		Rule:     string(RuleVehicleAccess),
		UniqueID: p.UniqueID,
		Name:     p.Name,
		Amount:   fine,
		Time:     now,
	})
}

func (e *Engine) evaluateSpeeding(obs Observation, now time.Time) {
	p := obs.Player

	// First observations have no motion baseline and are never enforced.
	if obs.First || !p.InVehicle() {
		return
	}
	if e.role(p.UniqueID) == model.RoleAdmin || p.IsAdmin {
		return
	}
	if IsPoliceVehicle(p.VehicleKey) {
		return
	}
	if obs.SpeedKMH <= SpeedLimitKMH || obs.SpeedKMH >= UnreliableSpeedKMH {
		return
	}

	// Both endpoints of the sampled segment must be clear of exemptions:
	// zones and garage teleport radii.
	if e.zones.ContainsAny(p.Location) || e.zones.ContainsAny(obs.Prev) {
		return
	}
	garages := e.garages()
	if geo.NearAnyGarage(p.Location, garages, geo.GarageProximityRadius) ||
		geo.NearAnyGarage(obs.Prev, garages, geo.GarageProximityRadius) {
		return
	}

	if !e.cooldowns.Allow(RuleSpeeding, p.UniqueID, SpeedingCooldown, now) {
		return
	}

	fine := FineForSpeed(obs.SpeedKMH)
	reason := fmt.Sprintf("Speeding: %.0f km/h", obs.SpeedKMH)

	e.log.Info("speeding violation",
		"uniqueId", p.UniqueID, "name", p.Name, "kmh", obs.SpeedKMH, "fine", fine)

	id := p.UniqueID
	e.exec.Go("fine", func() error {
		return e.client.AdjustMoney(context.Background(), id, fine, reason)
	})

	e.record(model.ActionRecord{
		Kind:     model.ActionFine,
		Rule:     string(RuleSpeeding),
		UniqueID: p.UniqueID,
		Name:     p.Name,
		Amount:   fine,
		SpeedKMH: obs.SpeedKMH,
		Time:     now,
	})
}

// PurgeCooldowns drops cooldown records not touched within ttl.
func (e *Engine) PurgeCooldowns(now time.Time, ttl time.Duration) {
	e.cooldowns.Purge(now, ttl)
}

func (e *Engine) record(a model.ActionRecord) {
	if e.actions != nil {
		e.actions.Push(a)
	}
}
