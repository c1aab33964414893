// Package inventory persists the set of bus modules the bridge has seen.
//
// Every module that answers a segment scan or shows up in status traffic
// gets a row in the modules table, keyed by its logical address. Serial
// numbers, firmware ages, and the name/comment/OEM text blocks are filled
// in lazily as the bridge fetches them.
//
// The inventory survives restarts, so consumers can enumerate known
// modules without waiting for a fresh scan.
//
// Usage:
//
//	repo := inventory.NewSQLiteRepository(db.DB)
//	if err := repo.MarkSeen(ctx, addr, time.Now()); err != nil {
//	    return err
//	}
package inventory
