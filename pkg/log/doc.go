/*
Package log provides structured logging for lobby using zerolog.

The package wraps a single global zerolog.Logger configured once at startup via
Init. Components derive child loggers that carry identifying fields so that a
visitor's history can be followed across the engine, the push manager and the
HTTP layer:

	log.WithComponent("push")        // component=push
	log.WithVisitorID(id)            // visitor_id=<uuid>
	log.WithConnID(connID, "viewer") // conn_id=<uuid> role=viewer

# Configuration

	log.Init(log.Config{
		Level:      log.ParseLevel("debug"),
		JSONOutput: true,
	})

JSON output is intended for production; the console writer (the default) is
easier to read in a terminal.
*/
package log
