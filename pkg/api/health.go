package api

import (
	"context"

	"github.com/cuemby/lobby/pkg/engine"
	"github.com/cuemby/lobby/pkg/events"
	"github.com/cuemby/lobby/pkg/metrics"
	"github.com/cuemby/lobby/pkg/push"
)

// RegisterHealthChecks installs the live checks behind /health and /ready.
// storage is probed with a real read, so a wedged database turns the probe
// red on the next request; bus and push report their own run state.
func RegisterHealthChecks(eng *engine.Engine, bus *events.Broker, pushMgr *push.Manager) {
	metrics.RegisterCheck("storage", func(ctx context.Context) error {
		_, err := eng.Stats(ctx)
		return err
	})
	metrics.RegisterCheck("bus", func(context.Context) error {
		return bus.Err()
	})
	metrics.RegisterCheck("push", func(context.Context) error {
		return pushMgr.Err()
	})
}
