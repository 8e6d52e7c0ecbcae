/*
Package events provides the in-process admin event bus.

The transition engine, the alerts collaborator and the push manager publish
types.AdminEvent values here; the push manager is the sole subscriber and fans
each event out to every operator connection.

# Architecture

	  engine ──┐
	  alerts ──┼──▶ Publish ──▶ eventCh (buffer 256) ──▶ run loop
	  push  ───┘                                          │
	                                         ┌────────────┴───────────┐
	                                         ▼                        ▼
	                                 subscriber (128)          subscriber (128)

A single distribution goroutine drains the publish queue, so events leave the
bus in the order they were queued. Callers that publish while holding a
visitor's lock therefore get per-visitor commit order for free.

# Delivery semantics

Delivery is at-most-once with no retry and no acknowledgement. A subscriber
whose buffer is full misses the event; the drop is counted in Dropped and in
the lobby_events_dropped_total metric. Publish blocks only while the publish
queue itself is full, and never after Stop.

# Usage

	bus := events.NewBroker(0)
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			fmt.Println(ev.Kind, ev.VisitorID)
		}
	}()

	bus.Publish(&types.AdminEvent{Kind: types.EventNewVisitor, VisitorID: id})
*/
package events
