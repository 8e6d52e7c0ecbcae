/*
Package client provides Go clients for the lobby HTTP and push APIs.

Two clients share one HTTP transport (Client):

  - VisitorClient registers a visitor and waits for the operator decision.
  - AdminClient logs in as an operator, drives approve/block/delete, and
    streams admin events with Watch. WatchStats adds a fresh Stats snapshot
    on every open and after each event that changes the counters.

# Reconnection

Every push channel attempt is a small state machine:

	Connecting ──dial ok──▶ Open ──read error / heartbeat timeout──▶ Closed(reason)
	    │                                                              ▲
	    └──────────────────────dial failed─────────────────────────────┘

Closed is terminal for the attempt and is reported exactly once. For a
visitor, Closed triggers one fallback action: start the poll loop unless it
is already running. The client then waits out a capped exponential backoff
and starts a fresh attempt. When an attempt reaches Open the poll loop is
stopped and one poll reconciles anything decided while push was down.

	┌────────────── VisitorClient.Run ─────────────┐
	│                                              │
	│  register ──▶ push attempt ──▶ Open          │
	│                   │             │ status     │
	│                   ▼             ▼            │
	│               Closed ──▶ poll loop ──▶ decided
	│                   │                          │
	│                   └── backoff ──▶ retry      │
	└──────────────────────────────────────────────┘

# Liveness

The client sends "ping" every Heartbeat.Interval. Any frame from the server,
including the pong answer, resets a heartbeat.Monitor; if nothing arrives for
Heartbeat.Timeout the client closes the transport itself with reason
"heartbeat timeout" instead of waiting for a TCP error that an idle proxy may
never deliver.

# Usage

	v := client.NewVisitorClient("http://localhost:8080", client.VisitorConfig{
		Metadata: map[string]string{"userAgent": "kiosk/1.0"},
	})
	status, err := v.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Println(status.State, status.Content)

	admin := client.NewAdminClient("http://localhost:8080")
	if _, err := admin.Login(ctx, password); err != nil {
		return err
	}
	go admin.Watch(ctx, func(ev *types.AdminEvent) {
		fmt.Println(ev.Kind, ev.VisitorID)
	})
	admin.Approve(ctx, id, "")

# Errors

Non-2xx replies come back as *APIError. errors.Is matches ErrNotFound for 404
and ErrUnauthorized for 401.
*/
package client
