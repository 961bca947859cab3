package enforce

import (
	"sync"
	"time"
)

// Rule identifies an enforcement rule for cooldown bookkeeping.
type Rule string

const (
	RuleVehicleAccess Rule = "vehicle_access"
	RuleSpeeding      Rule = "speeding"
)

// Per-rule cooldown windows. An action for a given rule and entity may
// not repeat within its window.
const (
	VehicleAccessCooldown = 2 * time.Second
	SpeedingCooldown      = 10 * time.Second
)

// Cooldowns tracks the last action time per rule and entity.
type Cooldowns struct {
	mu   sync.Mutex
	last map[Rule]map[string]time.Time
}

// NewCooldowns creates an empty cooldown table.
func NewCooldowns() *Cooldowns {
	return &Cooldowns{
		last: make(map[Rule]map[string]time.Time),
	}
}

// Allow reports whether an action for rule+entity is permitted at now,
// and records now as the last action time when it is. Denied calls do not
// refresh the window.
func (c *Cooldowns) Allow(rule Rule, uniqueID string, window time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	byEntity, ok := c.last[rule]
	if !ok {
		byEntity = make(map[string]time.Time)
		c.last[rule] = byEntity
	}

	if last, ok := byEntity[uniqueID]; ok && now.Sub(last) < window {
		return false
	}

	byEntity[uniqueID] = now
	return true
}

// Purge evicts records older than ttl so the table stays bounded.
func (c *Cooldowns) Purge(now time.Time, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-ttl)
	for _, byEntity := range c.last {
		for id, last := range byEntity {
			if last.Before(cutoff) {
				delete(byEntity, id)
			}
		}
	}
}
