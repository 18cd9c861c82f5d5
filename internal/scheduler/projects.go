package scheduler

import (
	"context"

	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/types"
)

// StorageProjectLister lists every project row in the projects
// namespace, for background jobs that sweep all projects rather than
// one.
type StorageProjectLister struct {
	db storage.Storage
}

// NewStorageProjectLister wraps backend as a ProjectLister.
func NewStorageProjectLister(backend storage.Storage) *StorageProjectLister {
	return &StorageProjectLister{db: backend}
}

// ListActive returns every project's id, unfiltered: Athena has no
// notion of an inactive project today, so this is every row in the
// projects namespace.
func (l *StorageProjectLister) ListActive(ctx context.Context) ([]types.ID, error) {
	it, err := l.db.Scan(ctx, storage.NSProjects, storage.Filter{})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var ids []types.ID
	for it.Next(ctx) {
		ids = append(ids, types.ID(it.Record().ID))
	}
	return ids, it.Err()
}
