// Package main implements jdsgated, the Stratum V2 gateway daemon. It pumps
// frames between downstream miners and the upstream template provider,
// classifies and routes them, and records share submissions to the
// configured persistence backends.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/bardlex/gojds/internal/blockwatch"
	"github.com/bardlex/gojds/internal/config"
	"github.com/bardlex/gojds/internal/gateway"
	"github.com/bardlex/gojds/internal/messaging"
	"github.com/bardlex/gojds/internal/persistence"
	"github.com/bardlex/gojds/internal/shutdown"
	"github.com/bardlex/gojds/internal/sv2"
	"github.com/bardlex/gojds/internal/tasks"
	"github.com/bardlex/gojds/internal/vardiff"
	"github.com/bardlex/gojds/pkg/log"
)

// version is overridable at link time:
//
//	go build -ldflags "-X main.version=1.2.3"
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "jdsgated: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("jdsgated", flag.ContinueOnError)

	listenAddr := fs.String("listen-addr", "", "Downstream listen address (overrides LISTEN_ADDR)")
	listenPort := fs.Int("listen-port", 0, "Downstream listen port (overrides LISTEN_PORT)")
	templateProvider := fs.String("template-provider", "", "Template provider address (overrides TEMPLATE_PROVIDER_ADDR)")
	zmqAddr := fs.String("zmq-addr", "", "Bitcoin Core ZMQ endpoint (overrides BITCOIN_ZMQ_ADDR)")
	backends := fs.StringSlice("persistence", nil, "Persistence backends (overrides PERSISTENCE_BACKENDS)")
	shareLog := fs.String("share-log", "", "Share log path for the file backend (overrides SHARE_LOG_PATH)")
	logLevel := fs.String("log-level", "", "Log level (overrides LOG_LEVEL)")
	logFormat := fs.String("log-format", "", "Log format, json or text (overrides LOG_FORMAT)")
	showVersion := fs.Bool("version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println(version)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if fs.Changed("listen-addr") {
		cfg.ListenAddr = *listenAddr
	}
	if fs.Changed("listen-port") {
		cfg.ListenPort = *listenPort
	}
	if fs.Changed("template-provider") {
		cfg.TemplateProviderAddr = *templateProvider
	}
	if fs.Changed("zmq-addr") {
		cfg.BitcoinZMQAddr = *zmqAddr
	}
	if fs.Changed("persistence") {
		cfg.PersistenceBackends = *backends
	}
	if fs.Changed("share-log") {
		cfg.ShareLogPath = *shareLog
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = *logFormat
	}
	cfg.Version = version

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting jdsgated",
		"version", cfg.Version,
		"listen_addr", cfg.ListenAddr,
		"listen_port", cfg.ListenPort,
		"template_provider", cfg.TemplateProviderAddr,
	)

	sig := shutdown.NewSignal(logger.Logger)
	tm := tasks.NewManager(logger.Logger)

	// Kafka client is shared by the persistence backend and block events.
	var kafkaClient *messaging.KafkaClient
	needKafka := false
	for _, b := range cfg.PersistenceBackends {
		if b == "kafka" {
			needKafka = true
		}
	}
	if needKafka {
		kafkaClient = messaging.NewKafkaClient(cfg.KafkaBrokers, logger.Logger)
		defer func() {
			if err := kafkaClient.Close(); err != nil {
				logger.WithError(err).Error("failed to close Kafka client")
			}
		}()
	}

	backend, err := buildPersistence(cfg, kafkaClient, logger)
	if err != nil {
		return err
	}
	defer backend.Shutdown()

	tracker := vardiff.NewTracker(vardiff.Config{
		TargetInterval: cfg.VardiffTarget,
		RetargetWindow: cfg.VardiffRetarget,
		MinDifficulty:  cfg.MinDifficulty,
		MaxDifficulty:  cfg.MaxDifficulty,
	})

	// Difficulty resume over Redis is best-effort: without it channels just
	// restart from the configured starting difficulty.
	var store gateway.DifficultyStore
	redisStore, err := vardiff.NewRedisStore(&vardiff.StoreConfig{
		Addr:         cfg.RedisAddr,
		DB:           cfg.RedisDB,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}, logger.Logger)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, difficulty resume disabled")
	} else {
		store = redisStore
		defer func() {
			if err := redisStore.Close(); err != nil {
				logger.WithError(err).Error("failed to close Redis store")
			}
		}()
	}

	recorder := gateway.NewShareRecorder(logger, backend, tracker, store, cfg.StartDifficulty)

	router := gateway.NewRouter(logger)
	router.Handle(sv2.MessageTypeMining, recorder)
	router.Handle(sv2.MessageTypeCommon, logFrames(logger, "common"))
	router.Handle(sv2.MessageTypeJobDeclaration, logFrames(logger, "job_declaration"))
	router.Handle(sv2.MessageTypeTemplateDistribution, logFrames(logger, "template_distribution"))

	handshaker := &gateway.PlainHandshaker{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	onDisconnect := func(downstreamID uint64) {
		recorder.CloseDownstream(downstreamID)
		if kafkaClient != nil {
			payload := fmt.Sprintf(`{"event":"disconnect","downstream_id":%d,"ts":%d}`,
				downstreamID, time.Now().Unix())
			pubCtx, pubCancel := context.WithTimeout(context.Background(), time.Second)
			defer pubCancel()
			if err := kafkaClient.PublishJSON(pubCtx, messaging.TopicConnectionEvents,
				fmt.Sprintf("%d", downstreamID), []byte(payload)); err != nil {
				logger.WithError(err).Debug("failed to publish connection event")
			}
		}
	}
	server := gateway.NewServer(cfg, logger, sig, tm, handshaker, router, onDisconnect)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startBlockWatcher(ctx, cfg, tm, backend, kafkaClient, logger)

	if err := server.ConnectTemplateProvider(ctx); err != nil {
		return err
	}

	go func() {
		if err := server.Start(ctx); err != nil {
			logger.WithError(err).Error("server failed")
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer stopCancel()
	cancel()
	if err := server.Stop(stopCtx); err != nil {
		return fmt.Errorf("shutdown did not drain cleanly: %w", err)
	}

	logger.Info("jdsgated stopped")
	return nil
}

// logFrames is the handler for categories the gateway only observes.
func logFrames(logger *log.Logger, category string) gateway.FrameHandler {
	flog := logger.WithComponent(category)
	return gateway.FrameHandlerFunc(func(_ context.Context, conn *gateway.Conn, frame sv2.Frame) ([]sv2.Frame, error) {
		flog.Debug("observed frame",
			"status", conn.Status.String(),
			"msg_type", frame.MsgType,
			"size", len(frame.Payload))
		return nil, nil
	})
}

// buildPersistence assembles the configured backend set. Multiple backends
// compose into a fan-out.
func buildPersistence(cfg *config.Config, kafkaClient *messaging.KafkaClient, logger *log.Logger) (persistence.Backend, error) {
	var built []persistence.Backend

	for _, name := range cfg.PersistenceBackends {
		switch name {
		case "noop":
			built = append(built, persistence.NoOp{})
		case "file":
			fb, err := persistence.NewFileBackend(cfg.ShareLogPath, cfg.QueueCapacity, logger.Logger)
			if err != nil {
				return nil, fmt.Errorf("failed to open share log: %w", err)
			}
			built = append(built, fb)
		case "kafka":
			built = append(built, persistence.NewKafkaBackend(
				kafkaClient, messaging.TopicShareEvents, cfg.QueueCapacity, logger.Logger))
		case "influx":
			built = append(built, persistence.NewInfluxBackend(&persistence.InfluxConfig{
				URL:    cfg.InfluxURL,
				Token:  cfg.InfluxToken,
				Org:    cfg.InfluxOrg,
				Bucket: cfg.InfluxBucket,
			}, logger.Logger))
		case "postgres":
			pb, err := persistence.NewPostgresBackend(&persistence.PostgresConfig{
				URL: cfg.PostgresURL,
			}, cfg.QueueCapacity, logger.Logger)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
			}
			built = append(built, pb)
		default:
			return nil, fmt.Errorf("unknown persistence backend %q", name)
		}
	}

	switch len(built) {
	case 0:
		return persistence.New(nil), nil
	case 1:
		return built[0], nil
	default:
		return persistence.NewMulti(built...), nil
	}
}

// startBlockWatcher wires bitcoind's ZMQ block feed to a persistence flush.
// The watcher is best-effort: a node without ZMQ configured just means no
// tip-driven flushes.
func startBlockWatcher(ctx context.Context, cfg *config.Config, tm *tasks.Manager, backend persistence.Backend, kafkaClient *messaging.KafkaClient, logger *log.Logger) {
	watcher, err := blockwatch.NewWatcher(cfg.BitcoinZMQAddr, func(event blockwatch.TipEvent) error {
		logger.LogNewBlock(event.Hash.String(), event.TxCount)
		backend.Flush()
		if kafkaClient != nil {
			payload := fmt.Sprintf(`{"hash":%q,"tx_count":%d,"ts":%d}`,
				event.Hash.String(), event.TxCount, event.Timestamp.Unix())
			pubCtx, pubCancel := context.WithTimeout(ctx, time.Second)
			defer pubCancel()
			if err := kafkaClient.PublishJSON(pubCtx, messaging.TopicBlockEvents,
				event.Hash.String(), []byte(payload)); err != nil {
				logger.WithError(err).Debug("failed to publish block event")
			}
		}
		return nil
	}, logger.Logger)
	if err != nil {
		logger.WithError(err).Warn("block watcher unavailable")
		return
	}
	if err := watcher.Connect(); err != nil {
		logger.WithError(err).Warn("block watcher failed to connect")
		if closeErr := watcher.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("failed to close block watcher")
		}
		return
	}

	tm.Spawn("block-watcher", func() {
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.WithError(err).Error("failed to close block watcher")
			}
		}()
		if err := watcher.Listen(ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Error("block watcher exited")
		}
	})
}
