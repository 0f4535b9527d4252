package syncer

import (
	"context"

	"offlinesync/internal/models"
)

// EnqueueEntity snapshots entity into a generic operation and enqueues it.
func EnqueueEntity(ctx context.Context, e *Engine, kind models.OperationKind, entity models.Entity) (models.SyncOperation, error) {
	op, err := models.NewOperation(kind, entity)
	if err != nil {
		return models.SyncOperation{}, err
	}
	return e.EnqueueAndMaybeSync(ctx, op)
}
