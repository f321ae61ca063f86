package catalog

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Lister is what the snapshot reloads from. *Repo implements it.
type Lister interface {
	ListProjects(ctx context.Context) ([]Project, error)
}

// Snapshot keeps the catalog in memory for the resolver. Reads never touch the store;
// concurrent Reload calls share one store round trip.
type Snapshot struct {
	src Lister

	mu       sync.RWMutex
	projects []Project

	group singleflight.Group
}

func NewSnapshot(src Lister) *Snapshot {
	return &Snapshot{src: src}
}

// Projects returns the current catalog. The slice must not be modified.
func (s *Snapshot) Projects() []Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projects
}

// Contains reports whether repoID is tracked, and returns its canonical spelling.
func (s *Snapshot) Contains(repoID string) (string, bool) {
	return Lookup(s.Projects(), repoID)
}

// Find returns the tracked project for repoID.
func (s *Snapshot) Find(repoID string) (Project, bool) {
	return Find(s.Projects(), repoID)
}

// Reload re-reads the catalog from the store and returns the number of projects.
func (s *Snapshot) Reload(ctx context.Context) (int, error) {
	v, err, _ := s.group.Do("reload", func() (any, error) {
		projects, err := s.src.ListProjects(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.projects = projects
		s.mu.Unlock()
		return len(projects), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}
