// Package placard is the composition root of Placard, a transactional store
// for one observable record: a place with a coordinate, a title and a subtitle.
//
// Every change goes through a Transaction opened on a Controller. Transactions
// come in three scheduling modes:
//
//   - Synchronous: Commit blocks until the change is stored and observers ran.
//   - Asynchronous: CommitAsync returns at once and reports through a callback;
//     it is dropped if its context ends before the commit is admitted.
//   - Detached: like asynchronous, but not tied to the lifetime of its creator.
//
// Commits of one place are admitted in submission order, one at a time, and
// write only the fields the draft changed on top of the latest snapshot.
// Observers attached to the controller receive WillUpdate, WasUpdated (with the
// set of changed fields) and WasDeleted.
//
// Stores are pluggable: a directory of YAML/JSON files versioned with Git (the
// default), an embedded SQLite database, or memory.
//
// Usage:
//
//	svc, err := placard.New("./places", placard.WithAutoInit(true))
//	ctrl, release, err := svc.Acquire(ctx, "home")
//	defer release()
//
//	tx, _ := ctrl.BeginSynchronous(ctx)
//	draft, _ := tx.Edit(ctx)
//	draft.SetCoordinate(38.72, -9.14)
//	snap, err := tx.Commit(ctx)
package placard
