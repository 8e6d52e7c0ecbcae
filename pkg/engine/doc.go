/*
Package engine applies visitor lifecycle transitions.

The engine is the only writer of visitor records. Every mutation of one id
runs under that id's lock from a keyed lock table, so racing operator actions
on the same visitor resolve in commit order while different visitors proceed
in parallel.

# State machine

	register   absent            -> pending   (existing record: refresh lastSeenAt only)
	approve    pending|blocked|approved -> approved
	block      pending|approved|blocked -> blocked
	delete     any               -> removed

Approving an already approved visitor is a new transition and re-emits
visitor_updated so open channels re-sync to the new content. The only error
the engine signals on its own is ErrNotFound.

# Notification

After a transition commits, and while the record lock is still held, the
engine publishes exactly one AdminEvent on the bus and queues one status
message for the visitor's push channel. Holding the lock keeps both streams
in commit order for each id. Delivery is fire and forget: a visitor without a
channel sees the change on its next poll.
*/
package engine
