package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gobwas/glob"

	"github.com/rohmanhakim/docs-crawler/internal/config"
	"github.com/rohmanhakim/docs-crawler/internal/engine"
	"github.com/rohmanhakim/docs-crawler/internal/progress"
	"github.com/rohmanhakim/docs-crawler/internal/telemetry"
)

// compileFilter turns --where into a glob.Glob, or nil if unset. An
// unparseable pattern is a usage error, reported before any crawling
// starts rather than silently admitting everything.
func compileFilter() glob.Glob {
	if whereLike == "" {
		return nil
	}
	g, err := glob.Compile(whereLike)
	if err != nil {
		exitOnError(fmt.Errorf("invalid --where pattern %q: %w", whereLike, err))
	}
	return g
}

func buildOptions(cfg config.Config) engine.Options {
	return engine.Options{
		Config:            cfg,
		DSN:               dsn,
		WorkerCount:       workerCount,
		BatchSize:         batchSize,
		FlushInterval:     flushInterval,
		RequeueJitter:     jitter,
		DiscoveryTimeout:  discoveryTimeout,
		DiscoveryParallel: discoveryParallel,
		ShutdownGrace:     shutdownGrace,
	}
}

// runJob wires one Orchestrator.Run invocation to the process's own
// interrupt signals (§4.I): the first Ctrl-C begins a graceful drain, a
// second within the grace window aborts in flight fetches.
func runJob(opts engine.Options, job engine.Job) {
	o := engine.New(opts, telemetry.NewConsole())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			o.RequestShutdown()
		}
	}()

	started := time.Now()
	result, err := o.Run(context.Background(), job)
	exitOnError(err)

	fmt.Printf("run %s on %q: %s in %s — processed %s, succeeded %s, failed %s, skipped %s (discovered %s)\n",
		result.RunID, result.TargetTable, result.Status, time.Since(started).Round(time.Millisecond),
		humanize.Comma(int64(result.Processed)), humanize.Comma(int64(result.Succeeded)),
		humanize.Comma(int64(result.Failed)), humanize.Comma(int64(result.Skipped)),
		humanize.Comma(int64(result.TotalDiscovered)))

	if result.Status != string(progress.StatusDone) {
		os.Exit(1)
	}
}
