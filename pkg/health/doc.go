/*
Package health probes a running lobby server from the outside.

It backs the "lobby probe" command, meant for container HEALTHCHECK and
orchestrator startup hooks. Two checkers are available:

  - HTTPChecker requests /ready (or /live, /health) and expects a 2xx. The
    status field of the server's JSON health document is echoed in the
    result message.
  - TCPChecker only dials the listen address.

Probe runs a checker until it passes once or fails Config.Retries times in a
row, waiting Config.Interval between attempts. Failures during
Config.StartPeriod are not counted, so a server still opening its bbolt
store is not reported dead.

	status := health.Probe(ctx, health.NewHTTPChecker("http://localhost:8080/ready"), health.DefaultConfig())
	if !status.Healthy {
		fmt.Println(status.LastResult.Message)
		os.Exit(1)
	}

The in-process health registry served at /health and /ready lives in
pkg/metrics; this package is only its client.
*/
package health
