// Package memory provides in-memory store implementations used in
// tests and single-process development runs.
package memory

import (
	"context"
	"sync"

	"github.com/camaradata/crawl-coordinator/internal/crawl"
)

// AreaStore keeps area snapshots and difficult tasks in maps. Safe for
// concurrent use.
type AreaStore struct {
	mu     sync.RWMutex
	areas  map[int64]crawl.AreaSnapshot
	nextID int64
}

// NewAreaStore seeds a store with the given snapshots. Snapshots with a
// zero ID get one assigned.
func NewAreaStore(snaps ...crawl.AreaSnapshot) *AreaStore {
	s := &AreaStore{areas: make(map[int64]crawl.AreaSnapshot), nextID: 1}
	for _, snap := range snaps {
		if snap.ID == 0 {
			snap.ID = s.nextID
		}
		if snap.ID >= s.nextID {
			s.nextID = snap.ID + 1
		}
		s.areas[snap.ID] = cloneSnapshot(snap)
	}
	return s
}

// LoadAll returns every stored snapshot.
func (s *AreaStore) LoadAll(_ context.Context) ([]crawl.AreaSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawl.AreaSnapshot, 0, len(s.areas))
	for _, snap := range s.areas {
		out = append(out, cloneSnapshot(snap))
	}
	return out, nil
}

// SaveAreaState overwrites the stored state, lease and finished set of
// an area, leaving its difficult tasks untouched.
func (s *AreaStore) SaveAreaState(_ context.Context, snap crawl.AreaSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.areas[snap.ID]
	if !ok {
		return crawl.ErrNotFound
	}
	cur.State = snap.State
	cur.LeaseUntil = snap.LeaseUntil
	cur.Finished = append([]crawl.Activity(nil), snap.Finished...)
	s.areas[snap.ID] = cur
	return nil
}

// SaveDifficultTask appends a difficult task and returns its new ID.
func (s *AreaStore) SaveDifficultTask(_ context.Context, areaID int64, task crawl.DifficultTask) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.areas[areaID]
	if !ok {
		return 0, crawl.ErrNotFound
	}
	task.ID = s.nextID
	s.nextID++
	cur.Difficult = append(cur.Difficult, task)
	s.areas[areaID] = cur
	return task.ID, nil
}

// DeleteDifficultTask removes a difficult task by its ID.
func (s *AreaStore) DeleteDifficultTask(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for areaID, snap := range s.areas {
		for i, task := range snap.Difficult {
			if task.ID == id {
				snap.Difficult = append(snap.Difficult[:i], snap.Difficult[i+1:]...)
				s.areas[areaID] = snap
				return nil
			}
		}
	}
	return crawl.ErrNotFound
}

func cloneSnapshot(snap crawl.AreaSnapshot) crawl.AreaSnapshot {
	snap.Finished = append([]crawl.Activity(nil), snap.Finished...)
	snap.Difficult = append([]crawl.DifficultTask(nil), snap.Difficult...)
	return snap
}
