package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aseanmotorclub/roadwatch/internal/cache"
	"github.com/aseanmotorclub/roadwatch/internal/enforce"
	"github.com/aseanmotorclub/roadwatch/internal/gameapi"
	"github.com/aseanmotorclub/roadwatch/internal/model"
	"github.com/aseanmotorclub/roadwatch/internal/motion"
	"github.com/aseanmotorclub/roadwatch/internal/policy"
)

// cooldownTTL bounds the enforcement cooldown table; records untouched
// this long belong to players who left.
const cooldownTTL = 30 * time.Minute

// Broadcaster pushes live frames to stream subscribers.
type Broadcaster interface {
	Broadcast(frame []byte)
}

// Metrics records per-cycle poll telemetry and speed samples.
type Metrics interface {
	WritePollStatus(loop string, ok bool, entityCount int, elapsed time.Duration)
	WriteSpeedSample(uniqueID string, kmh float64, now time.Time)
}

// Service owns the fetch-derive-enforce-publish pipeline for each
// polling loop. One cycle method per loop; the poller schedules them.
type Service struct {
	client   *gameapi.Client
	motion   *motion.Tracker
	engine   *enforce.Engine
	roles    *policy.RoleStore
	players  *cache.Snapshot[[]model.PlayerStatus]
	garages  *cache.Snapshot[[]model.Garage]
	vehicles *cache.Snapshot[[]model.PlayerStatus]
	hub      Broadcaster
	metrics  Metrics
	log      *slog.Logger
}

// New creates the ingest service. engine, hub and metrics may be nil;
// a nil engine disables enforcement while keeping telemetry flowing.
func New(
	client *gameapi.Client,
	tracker *motion.Tracker,
	engine *enforce.Engine,
	roles *policy.RoleStore,
	players *cache.Snapshot[[]model.PlayerStatus],
	garages *cache.Snapshot[[]model.Garage],
	vehicles *cache.Snapshot[[]model.PlayerStatus],
	hub Broadcaster,
	metrics Metrics,
	log *slog.Logger,
) *Service {
	return &Service{
		client:   client,
		motion:   tracker,
		engine:   engine,
		roles:    roles,
		players:  players,
		garages:  garages,
		vehicles: vehicles,
		hub:      hub,
		metrics:  metrics,
		log:      log,
	}
}

// liveFrame is the payload pushed to live stream subscribers after each
// player cycle.
type liveFrame struct {
	Players   []model.PlayerStatus `json:"players"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// PlayerCycle fetches players, derives motion, runs enforcement and
// publishes the snapshot. Motion derivation for an entity always
// happens before its enforcement evaluation within the same cycle.
func (s *Service) PlayerCycle() error {
	start := time.Now()
	players, err := s.client.Players(context.Background())
	if err != nil {
		s.players.MarkFailed("fetch error: "+err.Error(), time.Now())
		s.report("players", false, 0, time.Since(start))
		return err
	}

	now := time.Now()
	statuses := make([]model.PlayerStatus, 0, len(players))
	for _, p := range players {
		speed, prev, first := s.motion.Observe(p.UniqueID, p.Location, now)

		if s.engine != nil {
			s.engine.Evaluate(enforce.Observation{
				Player:   p,
				SpeedKMH: speed,
				Prev:     prev,
				First:    first,
			}, now)
		}

		statuses = append(statuses, model.PlayerStatus{
			X:          p.Location.X,
			Y:          p.Location.Y,
			Z:          p.Location.Z,
			Name:       p.Name,
			VehicleKey: p.VehicleKey,
			UniqueID:   p.UniqueID,
			SpeedKMH:   speed,
			PlayerType: string(s.roles.Role(p.UniqueID)),
		})

		if s.metrics != nil && speed > 0 {
			s.metrics.WriteSpeedSample(p.UniqueID, speed, now)
		}
	}

	s.players.Publish(statuses, now)
	s.broadcast(statuses, now)

	s.motion.Purge(now)
	if s.engine != nil {
		s.engine.PurgeCooldowns(now, cooldownTTL)
	}

	s.report("players", true, len(statuses), time.Since(start))
	return nil
}

// GarageCycle refreshes the garage snapshot consumed by the speeding
// rule's proximity exemption and the read API.
func (s *Service) GarageCycle() error {
	start := time.Now()
	garages, err := s.client.Garages(context.Background())
	if err != nil {
		s.garages.MarkFailed("fetch error: "+err.Error(), time.Now())
		s.report("garages", false, 0, time.Since(start))
		return err
	}

	s.garages.Publish(garages, time.Now())
	s.report("garages", true, len(garages), time.Since(start))
	return nil
}

// VehicleCycle samples NPC vehicle motion. NPC vehicles get speed
// derivation and a snapshot but no enforcement.
func (s *Service) VehicleCycle() error {
	start := time.Now()
	vehicles, err := s.client.Vehicles(context.Background())
	if err != nil {
		s.vehicles.MarkFailed("fetch error: "+err.Error(), time.Now())
		s.report("vehicles", false, 0, time.Since(start))
		return err
	}

	now := time.Now()
	statuses := make([]model.PlayerStatus, 0, len(vehicles))
	for _, v := range vehicles {
		speed, _, _ := s.motion.Observe("npc:"+v.UniqueID, v.Location, now)
		statuses = append(statuses, model.PlayerStatus{
			X:          v.Location.X,
			Y:          v.Location.Y,
			Z:          v.Location.Z,
			VehicleKey: v.VehicleKey,
			UniqueID:   v.UniqueID,
			SpeedKMH:   speed,
			PlayerType: "npc",
		})
	}

	s.vehicles.Publish(statuses, now)
	s.report("vehicles", true, len(statuses), time.Since(start))
	return nil
}

func (s *Service) broadcast(statuses []model.PlayerStatus, now time.Time) {
	if s.hub == nil {
		return
	}
	frame, err := json.Marshal(liveFrame{Players: statuses, UpdatedAt: now})
	if err != nil {
		s.log.Error("encoding live frame", "error", err)
		return
	}
	s.hub.Broadcast(frame)
}

func (s *Service) report(loop string, ok bool, n int, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.WritePollStatus(loop, ok, n, elapsed)
	}
}

// GarageLookup adapts the garage snapshot for the enforcement engine.
func GarageLookup(snap *cache.Snapshot[[]model.Garage]) func() []model.Garage {
	return func() []model.Garage {
		data, _ := snap.Get()
		return data
	}
}
