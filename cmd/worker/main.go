// The worker performs one drain pass over the deletion job queue and exits.
// Exit codes: 0 all batches succeeded or nothing to do, 1 at least one
// batch permanently failed, 2 fatal startup or infrastructure error.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"tribevibe-cleanup/internal/config"
	"tribevibe-cleanup/internal/storage"
	"tribevibe-cleanup/internal/store"
	"tribevibe-cleanup/internal/worker"
)

const (
	exitOK             = 0
	exitPartialFailure = 1
	exitFatal          = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Printf("connect postgres: %v", err)
		return exitFatal
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Printf("migrations: %v", err)
		return exitFatal
	}

	objects, err := storage.New(ctx, cfg)
	if err != nil {
		log.Printf("init object storage: %v", err)
		return exitFatal
	}

	sweeper := worker.New(cfg, st, objects)
	log.Printf("drain pass starting: max_fetch=%d batch_size=%d retries=%d dry_run=%v",
		cfg.WorkerMaxFetch, cfg.DeleteBatchSize, cfg.MaxRetries, cfg.WorkerDryRun)

	report, err := sweeper.Run(ctx)
	if err != nil {
		log.Printf("drain pass aborted: %v", err)
		return exitFatal
	}
	if report.PartialFailure() {
		log.Printf("drain pass finished with failures: completed=%d failed=%d", report.Completed, report.Failed)
		return exitPartialFailure
	}
	return exitOK
}
