// Package crawl defines the core types shared across the coordinator subsystems.
package crawl

import (
	"sync"
	"time"
)

// ResultCap is the maximum page size of the external search API. A batch
// of exactly this many companies means the true result set is larger and
// the query must be subdivided.
const ResultCap = 50

// Difficulty tiers for tasks.
const (
	DifficultyActivity = 0 // whole-activity query, empty search text
	DifficultyLetters  = 1 // letter-sequence-narrowed query
	DifficultyStreet   = 2 // street-name-narrowed query, deepest tier
)

// AreaState represents the crawl lifecycle of a postal area.
type AreaState string

// Area state values persisted in the area store.
const (
	AreaNotStarted AreaState = "not_started"
	AreaStarted    AreaState = "started"
	AreaFinished   AreaState = "finished"
)

// Activity is an immutable business-activity catalog entry.
type Activity struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
}

// DifficultTask is a pending fine-grained search registered against an area.
type DifficultTask struct {
	ID         int64    `json:"id"`
	SearchText string   `json:"search_text"`
	Activity   Activity `json:"activity"`
	Difficulty int      `json:"difficulty"`
}

// Task is the ephemeral unit of work handed to a crawl worker. Workers
// report results back by (area, activity, search text) identity.
type Task struct {
	AreaCode     string `json:"postal_code"`
	ActivityCode string `json:"activity_code"`
	SearchText   string `json:"search_text"`
	Difficulty   int    `json:"difficulty"`
}

// Company is one reported search result.
type Company struct {
	Name       string `json:"name"`
	CamaraLink string `json:"camara_link"`
}

// CompanyRecord is the persisted form of a company, carrying its dedup
// identity (name + postal code) and the activity codes it was seen under.
type CompanyRecord struct {
	Name       string
	AreaCode   string
	CamaraLink string
	Activities []Activity
}

// EscalationRequest asks the escalation consumer to subdivide a capped
// query into finer-grained follow-up tasks. RefineBySameStreets selects
// the street-level pass over the letter-partitioning pass.
type EscalationRequest struct {
	Area                *Area
	Activity            Activity
	SearchText          string
	RefineBySameStreets bool
}

// AreaSnapshot is a plain copy of an Area's state for persistence.
type AreaSnapshot struct {
	ID         int64
	Code       string
	State      AreaState
	LeaseUntil time.Time
	Finished   []Activity
	Difficult  []DifficultTask
}

// Area is one postal code and its crawl progress. The in-memory copy is
// authoritative during process lifetime; durable storage mirrors it.
// The scheduler and the escalation consumer touch the same Area from
// different goroutines, so every field access goes through a method
// that holds the area's own mutex.
type Area struct {
	mu sync.Mutex

	id         int64
	code       string
	state      AreaState
	leaseUntil time.Time
	finished   []Activity
	difficult  []DifficultTask
}

// NewArea builds an Area from a loaded snapshot.
func NewArea(snap AreaSnapshot) *Area {
	state := snap.State
	if state == "" {
		state = AreaNotStarted
	}
	return &Area{
		id:         snap.ID,
		code:       snap.Code,
		state:      state,
		leaseUntil: snap.LeaseUntil,
		finished:   append([]Activity(nil), snap.Finished...),
		difficult:  append([]DifficultTask(nil), snap.Difficult...),
	}
}

// ID returns the area's storage identifier.
func (a *Area) ID() int64 { return a.id }

// Code returns the 5-digit postal code.
func (a *Area) Code() string { return a.code }

// State returns the current lifecycle state.
func (a *Area) State() AreaState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// LeaseUntil returns the lease expiry, zero when no lease is held.
func (a *Area) LeaseUntil() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.leaseUntil
}

// Claimable reports whether the area may be handed to a worker: never
// started and never leased, or started with an absent or expired lease.
func (a *Area) Claimable(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case AreaNotStarted:
		return a.leaseUntil.IsZero()
	case AreaStarted:
		return a.leaseUntil.IsZero() || a.leaseUntil.Before(now)
	default:
		return false
	}
}

// MarkStarted stamps a fresh lease and moves the area to Started.
func (a *Area) MarkStarted(leaseUntil time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = AreaStarted
	a.leaseUntil = leaseUntil
}

// MarkFinished transitions to Finished and clears the finished-activity
// set so a future re-scan cycle starts from scratch.
func (a *Area) MarkFinished() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = AreaFinished
	a.finished = nil
}

// ResetLease clears the lease so the area becomes immediately
// re-claimable, demoting Finished back to Started. It reports whether a
// demotion happened.
func (a *Area) ResetLease() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leaseUntil = time.Time{}
	if a.state == AreaFinished {
		a.state = AreaStarted
		return true
	}
	return false
}

// HasFinishedActivity reports whether the activity is fully enumerated.
func (a *Area) HasFinishedActivity(code string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasFinishedLocked(code)
}

func (a *Area) hasFinishedLocked(code string) bool {
	for _, act := range a.finished {
		if act.Code == code {
			return true
		}
	}
	return false
}

// AddFinishedActivity records the activity as fully enumerated. It
// reports false when the activity was already in the set.
func (a *Area) AddFinishedActivity(act Activity) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hasFinishedLocked(act.Code) {
		return false
	}
	a.finished = append(a.finished, act)
	return true
}

// RemainingActivities returns the catalog activities not yet finished
// for this area, preserving catalog order.
func (a *Area) RemainingActivities(catalog []Activity) []Activity {
	a.mu.Lock()
	defer a.mu.Unlock()
	var remaining []Activity
	for _, act := range catalog {
		if !a.hasFinishedLocked(act.Code) {
			remaining = append(remaining, act)
		}
	}
	return remaining
}

// DifficultTasks returns a copy of the pending fine-grained tasks.
func (a *Area) DifficultTasks() []DifficultTask {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]DifficultTask(nil), a.difficult...)
}

// DifficultCount returns the number of pending fine-grained tasks.
func (a *Area) DifficultCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.difficult)
}

// FindDifficult looks up a pending task by activity code and search text.
func (a *Area) FindDifficult(activityCode, searchText string) (DifficultTask, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, task := range a.difficult {
		if task.Activity.Code == activityCode && task.SearchText == searchText {
			return task, true
		}
	}
	return DifficultTask{}, false
}

// HasDifficultText reports whether any pending task carries the text.
func (a *Area) HasDifficultText(searchText string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, task := range a.difficult {
		if task.SearchText == searchText {
			return true
		}
	}
	return false
}

// AppendDifficult registers a newly persisted fine-grained task.
func (a *Area) AppendDifficult(task DifficultTask) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.difficult = append(a.difficult, task)
}

// RemoveDifficult drops the pending task matching the activity code and
// search text, returning the removed task.
func (a *Area) RemoveDifficult(activityCode, searchText string) (DifficultTask, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, task := range a.difficult {
		if task.Activity.Code == activityCode && task.SearchText == searchText {
			a.difficult = append(a.difficult[:i], a.difficult[i+1:]...)
			return task, true
		}
	}
	return DifficultTask{}, false
}

// Snapshot copies the area's state for persistence.
func (a *Area) Snapshot() AreaSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AreaSnapshot{
		ID:         a.id,
		Code:       a.code,
		State:      a.state,
		LeaseUntil: a.leaseUntil,
		Finished:   append([]Activity(nil), a.finished...),
		Difficult:  append([]DifficultTask(nil), a.difficult...),
	}
}
