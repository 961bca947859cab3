package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aseanmotorclub/roadwatch/internal/dispatcher"
	"github.com/aseanmotorclub/roadwatch/internal/model"
	"github.com/aseanmotorclub/roadwatch/internal/queue"
)

// Webhook hook identifiers the game server posts to us.
const (
	HookEventStateChanged = "event_state_changed"
	HookRaceSectionPassed = "race_section_passed"
	HookVehicleEntered    = "vehicle_entered"
)

// StateStart is the lifecycle state that activates a race.
const StateStart = "START"

// SettledTTL is how long a settled race record is kept before Purge
// drops it. Late section reports inside the window are still recognized
// (and ignored, since the race is settled) rather than miscounted as
// unknown events.
const SettledTTL = 10 * time.Minute

// entryFeePattern extracts the entry fee embedded in a route name, e.g.
// "MountainRunEP500EP" declares a 500-currency entry fee.
var entryFeePattern = regexp.MustCompile(`EP(\d+)EP`)

// Banker is the slice of the game API race settlement needs.
type Banker interface {
	AdjustMoney(ctx context.Context, uniqueID string, amount int64, reason string) error
}

// Executor runs settlement transfers off the webhook path.
type Executor interface {
	Go(name string, fn func() error)
}

// StateChange is the payload of an event lifecycle webhook.
type StateChange struct {
	GUID         string            `json:"eventGuid"`
	State        string            `json:"eventState"`
	RouteName    string            `json:"routeName"`
	Participants []string          `json:"participants"`
	Waypoints    []json.RawMessage `json:"waypoints"`
}

// SectionPassed is the payload of a race checkpoint webhook. Each player
// reports their own checkpoint passes.
type SectionPassed struct {
	GUID         string `json:"eventGuid"`
	SectionIndex int    `json:"sectionIndex"`
	UniqueID     string `json:"UniqueID"`
	Name         string `json:"Name"`
}

// raceEvent is the tracked state of one active or recently settled race.
type raceEvent struct {
	name         string
	entryFee     int64
	rewardPool   int64
	lastWaypoint int
	debited      map[string]bool
	settled      bool
	settledAt    time.Time
}

// Tracker holds active race events and settles entry fees and payouts.
// Debit and credit transitions are guarded so a player is charged at
// most once per race and the reward is paid out at most once.
type Tracker struct {
	mu      sync.Mutex
	events  map[string]*raceEvent
	bank    Banker
	exec    Executor
	actions *queue.Queue[model.ActionRecord]
	log     *slog.Logger
}

// NewTracker creates an empty race tracker.
func NewTracker(bank Banker, exec Executor, actions *queue.Queue[model.ActionRecord], log *slog.Logger) *Tracker {
	return &Tracker{
		events:  make(map[string]*raceEvent),
		bank:    bank,
		exec:    exec,
		actions: actions,
		log:     log,
	}
}

// vehicleEnteredBuffer absorbs the burst of vehicle-entered notifications
// a grid start produces without holding up the webhook response.
const vehicleEnteredBuffer = 64

// RegisterHandlers wires the tracker into the webhook dispatcher. The
// vehicle-entered hook is acknowledged but carries no behavior; it is
// buffered off the request path and never dropped.
func (t *Tracker) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(HookEventStateChanged, t.handleStateChanged, dispatcher.Logged())
	d.Register(HookRaceSectionPassed, t.handleSectionPassed, dispatcher.Logged())
	d.Register(HookVehicleEntered, t.handleVehicleEntered,
		dispatcher.Buffered(vehicleEnteredBuffer), dispatcher.Blocking())
}

func (t *Tracker) handleStateChanged(e dispatcher.Event) error {
	var sc StateChange
	if err := json.Unmarshal(e.Data, &sc); err != nil {
		return fmt.Errorf("decoding state change: %w", err)
	}
	t.HandleStateChange(sc, e.Received)
	return nil
}

func (t *Tracker) handleVehicleEntered(e dispatcher.Event) error {
	t.log.Debug("vehicle entered", "bytes", len(e.Data))
	return nil
}

func (t *Tracker) handleSectionPassed(e dispatcher.Event) error {
	var sp SectionPassed
	if err := json.Unmarshal(e.Data, &sp); err != nil {
		return fmt.Errorf("decoding section passed: %w", err)
	}
	t.HandleSectionPassed(sp, e.Received)
	return nil
}

// EntryFee parses the fee marker out of a route name. Routes without a
// marker have no entry fee.
func EntryFee(routeName string) int64 {
	m := entryFeePattern.FindStringSubmatch(routeName)
	if m == nil {
		return 0
	}
	fee, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return fee
}

// HandleStateChange activates a race on a START transition. Races need a
// valid GUID, a positive entry fee and more than one participant;
// anything else is ignored.
func (t *Tracker) HandleStateChange(sc StateChange, now time.Time) {
	if sc.State != StateStart {
		return
	}
	// Event GUIDs are RFC 4122 strings; anything else is malformed input,
	// not a race, and gets surfaced rather than silently skipped.
	if uuid.Validate(sc.GUID) != nil {
		t.log.Warn("ignoring race start with invalid GUID", "guid", sc.GUID)
		return
	}
	fee := EntryFee(sc.RouteName)
	if fee <= 0 || len(sc.Participants) <= 1 {
		return
	}

	lastWaypoint := 0
	if n := len(sc.Waypoints); n > 0 {
		lastWaypoint = n - 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// A repeated START for the same GUID resets the race.
	t.events[sc.GUID] = &raceEvent{
		name:         sc.RouteName,
		entryFee:     fee,
		lastWaypoint: lastWaypoint,
		debited:      make(map[string]bool),
	}

	t.log.Info("race activated",
		"guid", sc.GUID, "route", sc.RouteName, "entryFee", fee,
		"participants", len(sc.Participants), "lastWaypoint", lastWaypoint)
}

// HandleSectionPassed settles checkpoint passes. Section 0 debits the
// entry fee from the reporting player once per race; the terminal
// section pays the accumulated pool to the first finisher. Unknown GUIDs
// are silently ignored.
func (t *Tracker) HandleSectionPassed(sp SectionPassed, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ev, ok := t.events[sp.GUID]
	if !ok {
		return
	}
	if ev.settled {
		return
	}

	if sp.SectionIndex == 0 && ev.entryFee > 0 && !ev.debited[sp.UniqueID] {
		ev.debited[sp.UniqueID] = true
		ev.rewardPool += ev.entryFee

		t.transfer(sp.UniqueID, -ev.entryFee,
			fmt.Sprintf("Race entry fee: %s", ev.name),
			model.ActionFine, now)

		t.log.Info("race entry debited",
			"guid", sp.GUID, "uniqueId", sp.UniqueID, "fee", ev.entryFee)
	}

	if sp.SectionIndex == ev.lastWaypoint {
		reward := ev.rewardPool
		ev.rewardPool = 0
		ev.entryFee = 0
		ev.settled = true
		ev.settledAt = now

		if reward > 0 {
			t.transfer(sp.UniqueID, reward,
				fmt.Sprintf("Race winner: %s", ev.name),
				model.ActionPayout, now)
		}

		t.log.Info("race settled",
			"guid", sp.GUID, "winner", sp.UniqueID, "reward", reward)
	}
}

// transfer fires a best-effort money adjustment; callers hold the lock.
func (t *Tracker) transfer(uniqueID string, amount int64, reason string, kind model.ActionKind, now time.Time) {
	t.exec.Go("race transfer", func() error {
		return t.bank.AdjustMoney(context.Background(), uniqueID, amount, reason)
	})
	if t.actions != nil {
		t.actions.Push(model.ActionRecord{
			Kind:     kind,
			Rule:     "race",
			UniqueID: uniqueID,
			Amount:   amount,
			Time:     now,
		})
	}
}

// Purge drops settled races older than SettledTTL. Active races are
// never purged.
func (t *Tracker) Purge(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for guid, ev := range t.events {
		if ev.settled && now.Sub(ev.settledAt) >= SettledTTL {
			delete(t.events, guid)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked races, settled included.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}
