package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"k8s.io/client-go/util/workqueue"

	"github.com/ordersync/ordersync/cmd/ordersync/internal/config"
	"github.com/ordersync/ordersync/emitter"
	"github.com/ordersync/ordersync/indexer"
	"github.com/ordersync/ordersync/internal/api"
	"github.com/ordersync/ordersync/ledger"
	olog "github.com/ordersync/ordersync/log"
	"github.com/ordersync/ordersync/notify"
	"github.com/ordersync/ordersync/ordersync"
	"github.com/ordersync/ordersync/storage"
	"github.com/ordersync/ordersync/supervisor"
	"github.com/ordersync/ordersync/txnclient"
	"github.com/ordersync/ordersync/watcher"
)

func fatal(msg string, err error) {
	slog.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}

// notifySink bridges the supervisor's snapshot fan-out to the notification
// producer, which wants a context for its engine calls.
type notifySink struct {
	ctx      context.Context
	producer *notify.OrderStatusProducer
}

func (s notifySink) OnSnapshot(state ledger.State, snap ordersync.Snapshot) {
	s.producer.Publish(s.ctx, state, snap)
}

func main() {
	cfg := config.DefaultConfig()
	fs := config.NewConfigFlagSet(&cfg)

	if err := fs.Parse(os.Args[1:]); err != nil {
		fatal("parsing flags failed", err)
	}

	if err := config.ApplyEnvDefaults(fs, &cfg); err != nil {
		fatal("invalid parameters", err)
	}

	if err := config.ValidateConfig(cfg); err != nil {
		fatal("invalid configuration", err)
	}

	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Workers get their own context so a shutdown can drain the queue first
	// and only cancel in-flight work if draining stalls.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	logger := slog.New(config.GetLogHandler(cfg))
	slog.SetDefault(logger)
	log.SetOutput(slog.NewLogLogger(logger.Handler(), slog.LevelDebug).Writer())

	appCtx = olog.ContextWithLogger(appCtx, logger)
	workerCtx = olog.ContextWithLogger(workerCtx, logger)

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		fatal("storage init failed", err)
	}
	defer store.Close()

	session := ordersync.NewSessionKey(ordersync.NetworkID(cfg.Network), cfg.Wallet)
	sessionStore := store.ForSession(session)

	notifyEngine, err := notify.NewEngine(appCtx, sessionStore,
		notify.WithEngineLogger(logger),
	)
	if err != nil {
		fatal("notification engine init failed", err)
	}

	var ledgerOpts []ledger.StoreOption
	ledgerOpts = append(ledgerOpts, ledger.WithStoreLogger(logger))
	if cfg.StrictReconcile {
		ledgerOpts = append(ledgerOpts, ledger.WithReconcilePolicy(ledger.Strict))
	}
	ledgerStore := ledger.NewStore(ledgerOpts...)

	rlOrders := workqueue.NewTypedMaxOfRateLimiter(
		workqueue.NewTypedItemExponentialFailureRateLimiter[ordersync.OrderWork](1*time.Second, 30*time.Second),
	)
	oqCfg := workqueue.TypedRateLimitingQueueConfig[ordersync.OrderWork]{Name: "orders"}
	oq := workqueue.NewTypedRateLimitingQueueWithConfig(rlOrders, oqCfg)

	queueEmitter := emitter.NewQueueEmitter(oq)

	sup := supervisor.New(ledgerStore, queueEmitter,
		supervisor.WithWatcher(watcher.New(watcher.WithLogger(logger))),
		supervisor.WithPlacementTimeout(cfg.PlacementTimeout),
		supervisor.WithLogger(logger),
	)

	signer := txnclient.New(cfg.SignerURL, txnclient.WithLogger(logger))
	txnEmitter := emitter.NewTxnEmitter(signer,
		emitter.WithSnapshotSource(sup),
		emitter.WithSubmissionRecorder(sessionStore),
	)

	streamController := api.NewStreamController(api.WithStreamLogger(logger))

	sup.AddSink(notifySink{ctx: appCtx, producer: notify.NewOrderStatusProducer(notifyEngine)})
	sup.AddSink(api.NewLedgerPublisher(streamController))

	var wg sync.WaitGroup
	for i := 0; i < cfg.OrderWorkers; i++ {
		wg.Add(1)
		go runOrderWorker(workerCtx, &wg, oq, txnEmitter, ledgerStore)
	}

	apiSrv := &http.Server{
		Addr:    cfg.HTTPListen,
		Handler: api.NewHandler(streamController, ledgerStore, api.WithHandlerLogger(logger)),
	}

	apiErrCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", slog.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			apiErrCh <- err
		}
	}()

	feed := indexer.New(cfg.IndexerWSURL, cfg.Subaccount, sup, indexer.WithLogger(logger))
	go func() {
		if err := feed.Run(appCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("indexer feed stopped", slog.String("error", err.Error()))
		}
	}()

	logger.Info("Service ready",
		slog.String("network", cfg.Network),
		slog.String("subaccount", cfg.Subaccount),
	)

	select {
	case err := <-apiErrCh:
		fatal("HTTP server failed", err)
	case <-appCtx.Done():
	}

	slog.Info("shutdown requested; draining queue...")
	oq.ShutDownWithDrain()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP API shutdown error", slog.String("error", err.Error()))
	}
	streamController.Flush()

	// Give the workers some time to drain, if not we abort.
	waitCtx, cancelWait := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelWait()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-waitCtx.Done():
		cancelWorkers()
	}

	<-done

	slog.Debug("drained; fully shutdown")
}
