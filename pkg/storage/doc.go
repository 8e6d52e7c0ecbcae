/*
Package storage provides BoltDB-backed persistence for lobby's visitor and
alert records.

# Architecture

A single bbolt file holds two buckets, each keyed by record id with JSON
values:

	<dataDir>/lobby.db
	  visitors  (visitor id) -> types.Visitor
	  alerts    (alert id)   -> types.Alert

Every Store method runs in its own bbolt transaction, so each call is atomic
and durable once it returns. bbolt allows a single writer at a time; readers
run concurrently against an MVCC snapshot.

The store does not arbitrate between racing writers of the same visitor. The
transition engine holds a per-visitor lock around each read-modify-write, which
keeps the store a plain persistence layer.

# Errors

Lookups and deletes of an absent key return an error wrapping ErrNotFound:

	v, err := store.GetVisitor(id)
	if errors.Is(err, storage.ErrNotFound) {
		// unknown visitor
	}

ConnectionStatus is a derived field. It is stored empty and recomputed by the
engine on read.
*/
package storage
