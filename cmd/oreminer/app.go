package main

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/bardlex/goore/internal/chain"
	"github.com/bardlex/goore/internal/config"
	"github.com/bardlex/goore/internal/database"
	"github.com/bardlex/goore/internal/database/influx"
	"github.com/bardlex/goore/internal/database/postgres"
	"github.com/bardlex/goore/internal/database/redis"
	"github.com/bardlex/goore/internal/messaging"
	"github.com/bardlex/goore/internal/metrics"
	"github.com/bardlex/goore/internal/miner"
	"github.com/bardlex/goore/internal/notify"
	"github.com/bardlex/goore/internal/relay"
	"github.com/bardlex/goore/internal/submit"
	"github.com/bardlex/goore/internal/telemetry"
	"github.com/bardlex/goore/pkg/log"
)

// app owns every long-lived component of one invocation.
type app struct {
	cfg      *config.Config
	logger   *log.Logger
	client   *chain.RPCClient
	relay    *relay.BlockEngine
	engine   *submit.Engine
	metrics  *metrics.Metrics
	recorder *telemetry.Recorder
	miner    *miner.Miner

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newApp wires the chain client, delivery engine, telemetry sinks and miner.
// Background tasks run until close.
func newApp(cfg *config.Config, signers []solana.PrivateKey, logger *log.Logger) (*app, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		cancel:  cancel,
	}

	a.client = chain.NewRPCClient(cfg.RPCURL, a.metrics.ObserveBreaker)

	var r relay.Relay
	if cfg.RelayEnabled() {
		a.relay = relay.NewBlockEngine(relayConfig(cfg), a.client, logger)
		r = a.relay
	}
	a.engine = submit.NewEngine(a.client, signers[0], r, submitConfig(cfg), logger)

	sinks, err := a.sinks(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.recorder = telemetry.NewRecorder(logger, telemetry.DefaultQueueSize, sinks...)

	session := miner.Session{
		Signers:         signers,
		PriorityFee:     cfg.PriorityFee,
		Endpoint:        cfg.RPCURL,
		RelayCredential: cfg.RelayAuth,
	}
	a.miner, err = miner.New(session, a.client, a.engine, a.recorder, minerConfig(cfg), logger)
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.MetricsAddr != "" {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.WithError(err).Error("metrics server failed")
			}
		}()
	}

	logger.Info("miner ready",
		"signers", len(signers),
		"payer", signers[0].PublicKey().String(),
		"relay", cfg.RelayEnabled(),
		"sinks", a.recorder.Sinks(),
	)
	return a, nil
}

// sinks connects every configured telemetry backend. Prometheus is always on.
func (a *app) sinks(ctx context.Context) ([]telemetry.Sink, error) {
	sinks := []telemetry.Sink{a.metrics}
	abort := func(err error) ([]telemetry.Sink, error) {
		for _, s := range sinks {
			_ = s.Close()
		}
		return nil, err
	}

	if len(a.cfg.KafkaBrokers) > 0 {
		kafkaClient := messaging.NewKafkaClient(a.cfg.KafkaBrokers, a.logger)
		sinks = append(sinks, messaging.NewEventSink(kafkaClient, messaging.EncodingProto))
	}

	if dbCfg := databaseConfig(a.cfg); dbCfg.Enabled() {
		manager, err := database.NewManager(dbCfg, a.logger)
		if err != nil {
			return abort(err)
		}
		sinks = append(sinks, manager)

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			manager.StartPeriodicTasks(ctx)
		}()
	}

	if a.cfg.ZMQPublish != "" {
		publisher, err := notify.NewPublisher(a.cfg.ZMQPublish, a.logger)
		if err != nil {
			return abort(err)
		}
		sinks = append(sinks, publisher)
	}

	return sinks, nil
}

// close stops background tasks, drains telemetry and releases connections.
func (a *app) close() {
	a.cancel()
	a.wg.Wait()

	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.logger.WithError(err).Warn("telemetry shutdown incomplete")
		}
		if dropped := a.recorder.Dropped(); dropped > 0 {
			a.logger.Warn("telemetry events dropped", "count", dropped)
		}
	}
	if a.relay != nil {
		_ = a.relay.Close()
	}
	if a.client != nil {
		_ = a.client.Close()
	}
}

func relayConfig(cfg *config.Config) relay.Config {
	rc := relay.DefaultConfig()
	if cfg.RelayURL != "" {
		rc.URL = cfg.RelayURL
	}
	rc.Auth = cfg.RelayAuth
	rc.Validators = cfg.RelayValidators
	return rc
}

func submitConfig(cfg *config.Config) submit.Config {
	sc := submit.DefaultConfig()
	sc.PriorityFee = cfg.PriorityFee
	sc.PollDelay = cfg.PollDelay
	sc.ConfirmRetries = cfg.ConfirmRetries
	sc.MaxBootstrapAttempts = cfg.BootstrapMaxAttempts
	sc.ResignEvery = cfg.BootstrapResignEvery
	sc.LeaderGapSlots = cfg.LeaderGapSlots
	sc.TipLamports = cfg.RelayTipLamports
	if len(cfg.RelayRegions) > 0 {
		sc.Regions = cfg.RelayRegions
	}
	if cfg.RelayPriority > 0 {
		sc.RelayPriorityFee = cfg.RelayPriority
	}
	return sc
}

func minerConfig(cfg *config.Config) miner.Config {
	mc := miner.DefaultConfig()
	mc.Bus.Rate = cfg.BusSelectRate
	return mc
}

func databaseConfig(cfg *config.Config) *database.Config {
	dc := &database.Config{}
	if cfg.PostgresURL != "" {
		dc.Postgres = postgres.DefaultConfig(cfg.PostgresURL)
	}
	if cfg.RedisURL != "" {
		dc.Redis = redis.DefaultConfig(cfg.RedisURL)
	}
	if cfg.InfluxURL != "" {
		dc.Influx = &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}
	}
	return dc
}
