/*
Package push owns the realtime channels between the server and its clients.

Two registries are kept. Visitor channels are keyed by visitor id and hold at
most one connection per id: attaching a second connection for the same id
closes the first with reason "superseded". Operator channels form a set that
receives every admin event.

Each Conn has a bounded send queue drained by one writer goroutine with a
per-write deadline. Broadcasts never block on a slow peer; a connection whose
queue is full or whose write fails is closed and detached while the remaining
connections keep receiving. Delivery is at most once and a change that misses
the push channel is recovered by polling.

Inbound frames are liveness traffic. A "ping" (bare or as {"type":"ping"}) is
answered with a {"type":"pong"} frame, anything else is ignored. A channel that
stays silent for the heartbeat timeout is closed and detached.

Manager.Run subscribes to the events.Broker and fans its events out to the
operator set, so operators see events in bus order.
*/
package push
