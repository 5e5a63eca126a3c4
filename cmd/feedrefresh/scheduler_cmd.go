package main

import (
	"log"
	"time"

	"github.com/adewale/feedrefresh/pkg/scheduler"
	"github.com/adewale/feedrefresh/pkg/timeprovider"
)

func runScheduler() {
	a, err := bootstrap()
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer a.close()

	serveMetrics(a.settings.MetricsAddr, a.logger)

	s := scheduler.New(
		a.jobs,
		a.logger,
		timeprovider.WallClock{},
		time.Duration(a.settings.Scheduler.IntervalS)*time.Second,
		a.settings.Scheduler.BatchSize,
		time.Duration(a.settings.FeedUpdateFrequencyS)*time.Second,
	)

	ctx, stop := notifyShutdown()
	defer stop()

	a.logger.Info("scheduler starting: interval=%ds batch_size=%d", a.settings.Scheduler.IntervalS, a.settings.Scheduler.BatchSize)
	s.Run(ctx)
	a.logger.Info("scheduler stopped")
}
