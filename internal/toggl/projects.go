package toggl

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const (
	// UnknownProjectName is returned for project ids absent from the
	// workspace listing, typically archived or deleted projects.
	UnknownProjectName = "Unknown Project"
	// NoProjectName labels entries tracked without a project.
	NoProjectName = "No Project"
)

// ProjectLister fetches the workspace's project id-to-name map.
type ProjectLister interface {
	FetchProjects(ctx context.Context) (map[int64]string, error)
}

// ProjectResolver maps project ids to display names using a bulk listing
// fetched once per process. A failed fetch leaves the cache cold so the next
// resolution retries; project renames upstream are picked up on restart.
type ProjectResolver struct {
	client ProjectLister
	logger *zap.Logger

	mu     sync.RWMutex
	names  map[int64]string
	loaded bool
}

// NewProjectResolver constructs a resolver around the provided lister.
func NewProjectResolver(client ProjectLister, logger *zap.Logger) *ProjectResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProjectResolver{
		client: client,
		logger: logger,
	}
}

// ResolveProjectName returns the display name for a project id. The first
// resolution populates the cache with one bulk fetch; later calls are pure
// map lookups.
func (r *ProjectResolver) ResolveProjectName(ctx context.Context, projectID int64) (string, error) {
	r.mu.RLock()
	if r.loaded {
		name := r.lookupLocked(projectID)
		r.mu.RUnlock()
		return name, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		names, err := r.client.FetchProjects(ctx)
		if err != nil {
			return "", err
		}
		r.names = names
		r.loaded = true
		r.logger.Info("project names cached", zap.Int("count", len(names)))
	}

	return r.lookupLocked(projectID), nil
}

func (r *ProjectResolver) lookupLocked(projectID int64) string {
	if name, ok := r.names[projectID]; ok {
		return name
	}
	return UnknownProjectName
}
