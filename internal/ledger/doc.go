// Package ledger implements the write pipeline's Status Reader (a
// single read over the idempotency ledger) and the background sweeper
// that reconciles pending rows a crashed processor never transitioned.
//
// # Status Reader
//
//	reader := ledger.NewReader(store)
//	resp, err := reader.Get(ctx, operationID)
//
// A missing row is reported by the underlying store as store.ErrNotFound;
// the write gateway's handler treats that as status=pending.
//
// # Sweeper
//
//	sweeper := ledger.NewSweeper(store, 5*time.Minute, 30*time.Minute)
//	sweeper.Start()
//	defer sweeper.Stop()
//
// The sweeper promotes pending rows older than staleAfter to failed, so
// an operation whose processor died after the pending insert does not
// stay pending in the status reader forever.
package ledger
