package batcher

// Package batcher accumulates single items under a key and releases them as
// one batch when a size or a time threshold is reached, whichever comes first.
//
// The Store owns the pending batches and the locking discipline. The
// Coordinator evaluates the triggers on every submit and on every sweep and
// hands each extracted batch to an Executor exactly once. The Sweeper drives
// periodic sweeps, and the Registry is the entry point for applications:
//
//	store := batcher.NewStore()
//	coord := batcher.NewCoordinator(store, batcher.TargetExecutor(), logger)
//	registry := batcher.NewRegistry(coord)
//
//	deletes, err := registry.Register("users.delete", batcher.Config{
//	    SizeThreshold: 100,
//	    TimeThreshold: 5 * time.Minute,
//	}, batcher.Typed(func(ctx context.Context, ids []string) error {
//	    return repo.DeleteAll(ctx, ids)
//	}))
//
//	deletes.Submit(ctx, "user-42")
//
// Batches live in memory only. A batch whose execution fails is dropped, it
// is neither retried nor re-queued.
