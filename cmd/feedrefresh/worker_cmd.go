package main

import (
	"log"
	"time"

	"github.com/adewale/feedrefresh/pkg/timeprovider"
	"github.com/adewale/feedrefresh/pkg/worker"
)

func runWorker() {
	a, err := bootstrap()
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer a.close()

	serveMetrics(a.settings.MetricsAddr, a.logger)

	w := worker.New(
		a.jobs,
		a.feeds,
		a.posts,
		a.atomic,
		a.newFetcher(),
		a.logger,
		timeprovider.WallClock{},
		time.Duration(a.settings.Worker.IntervalS)*time.Second,
		a.settings.Worker.BatchSize,
		time.Duration(a.settings.FeedUpdateFetchTimeoutS)*time.Second,
		a.retryDelays(),
	)

	ctx, stop := notifyShutdown()
	defer stop()

	a.logger.Info("worker starting: interval=%ds batch_size=%d", a.settings.Worker.IntervalS, a.settings.Worker.BatchSize)
	w.Run(ctx)
	a.logger.Info("worker stopped")
}
