// Package failover implements the device failover controller: a
// per-device state machine (active -> failing_over -> failed -> active),
// pluggable target-selection strategies, a per-device failover lock and
// bounded failover history with aggregate statistics.
package failover

import (
	"sort"
	"sync"
	"time"

	"encore.app/pkg/apperrors"
)

// State is a device's failover state.
type State string

const (
	StateActive      State = "active"
	StateFailingOver State = "failing_over"
	StateFailed      State = "failed"
)

// Device is the static and dynamic data the controller needs about one
// device to drive the state machine and target selection.
type Device struct {
	ID          string
	Group       string
	Region      string
	Priority    int
	Connections int
	HealthScore float64
}

type deviceState struct {
	device                Device
	state                 State
	consecutiveFailures   int
	consecutiveRecoveries int
	failedAt              time.Time
	mu                    sync.Mutex
}

// Strategy picks a target among healthy candidates in the same group as
// the failing device (candidates never include the failing device itself).
type Strategy interface {
	Select(failing Device, candidates []Device) (Device, bool)
}

type priorityStrategy struct{}

func (priorityStrategy) Select(_ Device, candidates []Device) (Device, bool) {
	return bestBy(candidates, func(d Device) float64 { return float64(d.Priority) })
}

type loadStrategy struct{}

func (loadStrategy) Select(_ Device, candidates []Device) (Device, bool) {
	return bestBy(candidates, func(d Device) float64 { return -float64(d.Connections) })
}

type geographicStrategy struct{}

func (geographicStrategy) Select(failing Device, candidates []Device) (Device, bool) {
	var local []Device
	for _, c := range candidates {
		if c.Region == failing.Region {
			local = append(local, c)
		}
	}
	if len(local) > 0 {
		return bestBy(local, func(d Device) float64 { return d.HealthScore })
	}
	return bestBy(candidates, func(d Device) float64 { return d.HealthScore })
}

type healthStrategy struct{}

func (healthStrategy) Select(_ Device, candidates []Device) (Device, bool) {
	return bestBy(candidates, func(d Device) float64 { return d.HealthScore })
}

// bestBy picks the candidate with the highest score, breaking ties by
// descending Priority so the result is deterministic and independent of
// input order rather than "first seen wins".
func bestBy(candidates []Device, score func(Device) float64) (Device, bool) {
	if len(candidates) == 0 {
		return Device{}, false
	}
	best := candidates[0]
	bestScore := score(best)
	for _, c := range candidates[1:] {
		s := score(c)
		if s > bestScore || (s == bestScore && c.Priority > best.Priority) {
			best, bestScore = c, s
		}
	}
	return best, true
}

// StrategyByName resolves one of the four named strategies; unknown names
// fall back to health-based, the specification's documented default.
func StrategyByName(name string) Strategy {
	switch name {
	case "priority":
		return priorityStrategy{}
	case "load":
		return loadStrategy{}
	case "geographic":
		return geographicStrategy{}
	default:
		return healthStrategy{}
	}
}

// Event is one recorded failover transition.
type Event struct {
	DeviceID  string
	FromState State
	ToState   State
	Target    string
	Manual    bool
	Timestamp time.Time
	Duration  time.Duration
}

// Config tunes the controller's thresholds.
type Config struct {
	FailureThreshold  int
	RecoveryThreshold int
	RecoveryCooldown  time.Duration
	MinHealthScore    float64
	Strategy          Strategy
	HistoryCapacity   int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:  3,
		RecoveryThreshold: 3,
		RecoveryCooldown:  30 * time.Second,
		MinHealthScore:    0.5,
		Strategy:          healthStrategy{},
		HistoryCapacity:   50,
	}
}

// Controller is the failover controller's live state.
type Controller struct {
	config Config

	mu      sync.RWMutex
	devices map[string]*deviceState
	active  map[string]string // group -> active device ID

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	histMu  sync.Mutex
	history []Event

	statsMu  sync.Mutex
	stats    Stats
}

// Stats aggregates failover activity across all devices.
type Stats struct {
	TotalFailovers  int64
	PerDevice       map[string]int64
	RollingAvgDurMS float64
}

func New(config Config) *Controller {
	if config.Strategy == nil {
		config.Strategy = healthStrategy{}
	}
	if config.HistoryCapacity <= 0 {
		config.HistoryCapacity = 50
	}
	return &Controller{
		config:  config,
		devices: make(map[string]*deviceState),
		active:  make(map[string]string),
		locks:   make(map[string]*sync.Mutex),
		stats:   Stats{PerDevice: make(map[string]int64)},
	}
}

// Register adds or updates a device's static descriptor and, if the
// device's group has no active device yet, marks it active.
func (c *Controller) Register(d Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ds, ok := c.devices[d.ID]
	if !ok {
		ds = &deviceState{device: d, state: StateActive}
		c.devices[d.ID] = ds
	} else {
		ds.device = d
	}
	if _, ok := c.active[d.Group]; !ok {
		c.active[d.Group] = d.ID
	}
}

// ActiveDevice returns the currently active device ID for a group,
// satisfying devicepool.ActiveResolver.
func (c *Controller) ActiveDevice(group string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.active[group]
	return id, ok
}

func (c *Controller) lockFor(deviceID string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[deviceID] = l
	}
	return l
}

// RecordProbe feeds one health-check result for a device into the state
// machine, possibly triggering a failover or recovery transition.
func (c *Controller) RecordProbe(deviceID string, healthy bool, healthScore float64) error {
	c.mu.RLock()
	ds, ok := c.devices[deviceID]
	c.mu.RUnlock()
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "unknown device: "+deviceID)
	}

	ds.mu.Lock()
	ds.device.HealthScore = healthScore
	state := ds.state
	if healthy {
		ds.consecutiveFailures = 0
		ds.consecutiveRecoveries++
	} else {
		ds.consecutiveRecoveries = 0
		ds.consecutiveFailures++
	}
	shouldFailover := state == StateActive && ds.consecutiveFailures >= c.config.FailureThreshold
	shouldRecover := state == StateFailed && ds.consecutiveRecoveries >= c.config.RecoveryThreshold &&
		time.Since(ds.failedAt) >= c.config.RecoveryCooldown
	ds.mu.Unlock()

	if shouldFailover {
		return c.failover(deviceID, false)
	}
	if shouldRecover {
		return c.recover(deviceID)
	}
	return nil
}

// TriggerManual forces a failover for deviceID bypassing the health
// heuristic, e.g. for planned maintenance.
func (c *Controller) TriggerManual(deviceID string) error {
	return c.failover(deviceID, true)
}

func (c *Controller) failover(deviceID string, manual bool) error {
	lock := c.lockFor(deviceID)
	if !lock.TryLock() {
		return apperrors.New(apperrors.KindConflict, "failover already in progress for "+deviceID)
	}
	defer lock.Unlock()

	start := time.Now()

	c.mu.RLock()
	ds, ok := c.devices[deviceID]
	c.mu.RUnlock()
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "unknown device: "+deviceID)
	}

	ds.mu.Lock()
	ds.state = StateFailingOver
	failing := ds.device
	ds.mu.Unlock()
	publishFailoverStarted(Event{DeviceID: deviceID, FromState: StateActive, ToState: StateFailingOver, Manual: manual, Timestamp: time.Now()})

	candidates := c.healthyCandidates(failing)
	target, found := c.config.Strategy.Select(failing, candidates)

	ds.mu.Lock()
	defer ds.mu.Unlock()
	if !found {
		ds.state = StateActive
		c.record(Event{DeviceID: deviceID, FromState: StateActive, ToState: StateActive, Manual: manual, Timestamp: time.Now(), Duration: time.Since(start)})
		return apperrors.New(apperrors.KindUnavailable, "no healthy failover target for "+deviceID)
	}

	c.mu.Lock()
	c.active[failing.Group] = target.ID
	c.mu.Unlock()

	ds.state = StateFailed
	ds.failedAt = time.Now()
	ds.consecutiveRecoveries = 0

	completed := Event{DeviceID: deviceID, FromState: StateActive, ToState: StateFailed, Target: target.ID, Manual: manual, Timestamp: time.Now(), Duration: time.Since(start)}
	c.record(completed)
	c.bumpStats(deviceID, time.Since(start))
	publishFailoverCompleted(completed)
	return nil
}

func (c *Controller) recover(deviceID string) error {
	lock := c.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.RLock()
	ds, ok := c.devices[deviceID]
	c.mu.RUnlock()
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "unknown device: "+deviceID)
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.state != StateFailed {
		return nil
	}
	ds.state = StateActive

	c.mu.Lock()
	c.active[ds.device.Group] = deviceID
	c.mu.Unlock()

	c.record(Event{DeviceID: deviceID, FromState: StateFailed, ToState: StateActive, Timestamp: time.Now()})
	return nil
}

func (c *Controller) healthyCandidates(failing Device) []Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Device
	for id, ds := range c.devices {
		if id == failing.ID {
			continue
		}
		ds.mu.Lock()
		d, state := ds.device, ds.state
		ds.mu.Unlock()
		if d.Group == failing.Group && state == StateActive && d.HealthScore >= c.config.MinHealthScore {
			out = append(out, d)
		}
	}
	// Order by descending Priority so a strategy that doesn't fully order
	// candidates itself (and bestBy's own tie-break) sees the
	// highest-priority candidate first; fall back to ID only to keep the
	// order deterministic among equal priorities.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *Controller) record(e Event) {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	c.history = append(c.history, e)
	if len(c.history) > c.config.HistoryCapacity {
		c.history = c.history[len(c.history)-c.config.HistoryCapacity:]
	}
}

func (c *Controller) bumpStats(deviceID string, dur time.Duration) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	n := c.stats.TotalFailovers
	c.stats.RollingAvgDurMS = (c.stats.RollingAvgDurMS*float64(n) + float64(dur.Milliseconds())) / float64(n+1)
	c.stats.TotalFailovers++
	c.stats.PerDevice[deviceID]++
}

// History returns the bounded failover event history, oldest first.
func (c *Controller) History() []Event {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	out := make([]Event, len(c.history))
	copy(out, c.history)
	return out
}

// StateOf returns a device's current state.
func (c *Controller) StateOf(deviceID string) (State, error) {
	c.mu.RLock()
	ds, ok := c.devices[deviceID]
	c.mu.RUnlock()
	if !ok {
		return "", apperrors.New(apperrors.KindNotFound, "unknown device: "+deviceID)
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.state, nil
}

// StatsSnapshot returns a copy of the aggregate failover statistics.
func (c *Controller) StatsSnapshot() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	cp := Stats{TotalFailovers: c.stats.TotalFailovers, RollingAvgDurMS: c.stats.RollingAvgDurMS, PerDevice: make(map[string]int64, len(c.stats.PerDevice))}
	for k, v := range c.stats.PerDevice {
		cp.PerDevice[k] = v
	}
	return cp
}
