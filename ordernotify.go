package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/verdant/ordernotify/admin"
	"github.com/verdant/ordernotify/api"
	"github.com/verdant/ordernotify/cfg"
	"github.com/verdant/ordernotify/changefeed"
	"github.com/verdant/ordernotify/notify"
	"github.com/verdant/ordernotify/orders"
	"github.com/verdant/ordernotify/spill"
	"github.com/verdant/ordernotify/telemetry"
	"github.com/verdant/ordernotify/transport"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const statsInterval = 5 * time.Second

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Order notification service starting")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Service stopped with error")
	}
	log.Info().Msg("Service stopped")
}

func run(ctx context.Context) error {
	recipient := notify.RecipientID(cfg.Config.Notify.DefaultRecipient)

	// Pending queue, optionally backed by the spill store
	var spillStore *spill.Store
	policy, err := notify.ParseOverflowPolicy(string(cfg.Config.Notify.OverflowPolicy))
	if err != nil {
		return err
	}
	queueConfig := notify.QueueConfig{
		Capacity: cfg.Config.Notify.QueueCapacity,
		Policy:   policy,
	}
	if policy == notify.OverflowSpill {
		spillStore, err = spill.Open(cfg.GetSpillDir(), spill.Options{Compress: cfg.Config.Spill.Compress})
		if err != nil {
			return err
		}
		defer spillStore.Close()
		queueConfig.Overflow = spillStore
	}

	queue, err := notify.NewPendingQueue(queueConfig)
	if err != nil {
		return err
	}

	dispatcher, err := notify.NewDispatcher(notify.DispatcherConfig{
		Queue:        queue,
		DedupeWindow: cfg.Config.Notify.DedupeWindow,
	})
	if err != nil {
		return err
	}

	collector := telemetry.NewMetricsCollector(dispatcher, statsInterval)
	collector.Start()
	defer collector.Stop()

	// Order store, publishing committed inserts on the local change feed when it is the producer
	produceFromFeed := cfg.Config.Notify.Producer == cfg.ProducerChangeFeed
	var hub *changefeed.Hub
	var storeOpts []orders.StoreOption
	if produceFromFeed && cfg.Config.ChangeFeed.Source == "local" {
		hub = changefeed.NewHub(cfg.Config.ChangeFeed.LocalBufferSize)
		storeOpts = append(storeOpts, orders.WithChangeFeed(hub, cfg.Config.ChangeFeed.Schema))
	}

	store, err := orders.Open(ctx, cfg.Config.Store.Driver, cfg.GetStoreDSN(), storeOpts...)
	if err != nil {
		return err
	}
	defer store.Close()

	notifyDefault := func(o notify.Order) {
		dispatcher.OnOrderCreated(recipient, o)
	}

	var notifier orders.Notifier
	var listener changefeed.Listener
	if produceFromFeed {
		listener, err = startChangeFeed(ctx, hub, notifyDefault)
		if err != nil {
			// Orders are still taken; they are just not announced until restart
			log.Error().Err(err).Msg("Change feed subscription failed, running without live notifications")
		}
	} else {
		notifier = notifyDefault
		log.Info().Msg("Orders notified directly by the payment flow")
	}

	service := orders.NewService(store, notifier)

	// Push transport
	wsServer, err := transport.NewServer(transport.ConfigFromSettings(cfg.Config.WebSocket, cfg.Config.Notify), dispatcher)
	if err != nil {
		return err
	}

	routerOpts := api.Options{
		WebSocketPath: cfg.Config.WebSocket.Path,
		WebSocket:     wsServer,
		MetricsPath:   cfg.Config.Prometheus.Path,
		Metrics:       telemetry.GetMetricsHandler(),
		HealthCheckers: []api.HealthChecker{
			func(r *http.Request) error { return store.Ping(r.Context()) },
		},
	}
	if cfg.Config.Admin.Enabled {
		routerOpts.Admin = admin.NewRouter(admin.NewAdminHandlers(dispatcher, wsServer, store))
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Config.Server.BindAddress, cfg.Config.Server.Port),
		Handler:           api.NewRouter(service, routerOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", httpServer.Addr).
			Str("data_dir", cfg.Config.DataDir).
			Str("producer", string(cfg.Config.Notify.Producer)).
			Str("recipient", string(recipient)).
			Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	return shutdown(httpServer, wsServer, listener)
}

// startChangeFeed subscribes the configured feed and forwards order inserts to onOrder
func startChangeFeed(ctx context.Context, hub *changefeed.Hub, onOrder func(notify.Order)) (changefeed.Listener, error) {
	listener, err := changefeed.NewListener(cfg.Config.ChangeFeed, hub)
	if err != nil {
		return nil, err
	}

	sub, err := changefeed.SubscriptionFromConfig(cfg.Config.ChangeFeed)
	if err != nil {
		listener.Close()
		return nil, err
	}

	if err := listener.Subscribe(ctx, sub, changefeed.OrderHandler(onOrder)); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to subscribe to change feed: %w", err)
	}

	log.Info().
		Str("source", cfg.Config.ChangeFeed.Source).
		Str("format", cfg.Config.ChangeFeed.Format).
		Str("schema", sub.Schema).
		Str("table", sub.Table).
		Str("event", string(sub.Event)).
		Msg("Change feed subscribed")
	return listener, nil
}

// shutdown stops intake first, then sessions, then the HTTP server
func shutdown(httpServer *http.Server, wsServer *transport.Server, listener changefeed.Listener) error {
	timeout := time.Duration(cfg.Config.Server.ShutdownTimeoutMS) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if listener != nil {
		if err := listener.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close change feed: %w", err))
		}
	}
	if err := wsServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close websocket sessions: %w", err))
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
	}
	return errors.Join(errs...)
}
