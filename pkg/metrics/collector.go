package metrics

import (
	"context"
	"time"

	"github.com/cuemby/lobby/pkg/types"
)

// StatsSource reports the aggregate counters the collector exports
type StatsSource interface {
	Stats(ctx context.Context) (*types.Stats, error)
}

// Collector periodically refreshes gauges that are cheaper to sample than
// to maintain incrementally
type Collector struct {
	source   StatsSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source StatsSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := c.source.Stats(ctx)
	if err != nil {
		return
	}

	VisitorsTotal.WithLabelValues(string(types.VisitorStatePending)).Set(float64(stats.Visitors.Pending))
	VisitorsTotal.WithLabelValues(string(types.VisitorStateApproved)).Set(float64(stats.Visitors.Approved))
	VisitorsTotal.WithLabelValues(string(types.VisitorStateBlocked)).Set(float64(stats.Visitors.Blocked))
	VisitorsOnline.Set(float64(stats.Visitors.Online))
	AlertsUnread.Set(float64(stats.Alerts.Unread))
}
