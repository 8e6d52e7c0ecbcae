/*
Package api implements the lobby HTTP API and websocket endpoints.

The router is a gorilla/mux tree. Visitor endpoints are public; everything
under /api that drives operator actions sits behind auth.Middleware, which
takes the session token from a Bearer header or the token query parameter
(browsers cannot set headers on websocket requests).

# Architecture

	┌──────────── visitor ────────────┐   ┌──────────── operator ───────────┐
	│ POST /api/visitors/register     │   │ POST /api/auth/admin            │
	│ GET  /api/visitors/{id}/status  │   │ GET  /api/ws/admin      (push)  │
	│ GET  /api/ws/visitor/{id} (push)│   │ GET/PUT/DELETE /api/visitors... │
	└───────────────┬─────────────────┘   │ /api/stats /api/pages /alerts   │
	                │                     └───────────────┬─────────────────┘
	                ▼                                     ▼
	        ┌─────────────── Server (pkg/api) ───────────────┐
	        │  CORS · metrics middleware · auth middleware   │
	        └──────┬──────────────────┬─────────────────┬────┘
	               ▼                  ▼                 ▼
	         engine.Engine       push.Manager     alerts.Service

# Endpoints

Visitor:

	POST   /api/visitors/register        {id?, metadata?} -> {id, state}
	GET    /api/visitors/{id}/status     -> {state, contentRef?, content?} | 404
	GET    /api/ws/visitor/{id}          push channel, 404 before upgrade if unknown

Operator (session token required):

	POST   /api/auth/admin               {password} -> {token, expiresAt}
	GET    /api/ws/admin                 push channel for every admin event
	GET    /api/visitors                 all visitors with connection status
	GET    /api/visitors/{id}
	PUT    /api/visitors/{id}/approve    {contentRef?}
	PUT    /api/visitors/{id}/block
	DELETE /api/visitors/{id}
	GET    /api/stats
	GET    /api/pages
	GET    /api/alerts
	POST   /api/alerts                   {type, message, severity?}
	PUT    /api/alerts/read-all
	PUT    /api/alerts/{id}/read
	DELETE /api/alerts/{id}

Operations:

	GET    /health /live /ready /metrics

# Errors

Every error reply is {"error": "..."}. Unknown ids map to 404, malformed
bodies and unknown content refs to 400, rejected logins to 401 and login
floods to 429. Anything else is logged and returned as 500.

# Push channels

Handlers upgrade with gorilla/websocket and hand the connection to
push.Manager, which owns it from then on. Visitor channels attach through
engine.AttachChannel so the existence check and the attach hold the record
lock together; a visitor deleted mid-handshake gets a "not found" close frame. Upgrades check the Origin header
against the CORS allow list; a request without Origin (native clients) is
accepted. Inbound frames are capped at 4 KiB since only liveness probes are
expected.
*/
package api
