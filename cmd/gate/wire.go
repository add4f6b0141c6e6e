package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"qgate/internal/consensus"
	"qgate/internal/contract"
	"qgate/internal/envelope"
	"qgate/internal/gate"
	jwttoken "qgate/internal/jwt_token"
	"qgate/internal/ledger"
	"qgate/internal/ledger/indexer"
	"qgate/internal/ledger/kafka"
	"qgate/internal/ledger/memory"
	"qgate/internal/ledger/resilient"
	"qgate/internal/listener"
	"qgate/internal/migration"
	migrationstore "qgate/internal/migration/store"
	"qgate/internal/platform/config"
	"qgate/internal/platform/httpserver"
	"qgate/internal/platform/metrics"
	platformredis "qgate/internal/platform/redis"
	"qgate/internal/provenance"
	provenancestore "qgate/internal/provenance/store"
	"qgate/internal/readiness"
	"qgate/internal/transfer"
	httptransport "qgate/internal/transport/http"
	audit "qgate/pkg/platform/audit"
	"qgate/pkg/platform/audit/publisher"
	auditmem "qgate/pkg/platform/audit/store/memory"
	auditpg "qgate/pkg/platform/audit/store/postgres"
	"qgate/pkg/platform/circuit"
)

const resultsBuffer = 256

// app holds the wired gate and the resources to release on exit.
type app struct {
	gate    *gate.Gate
	closers []func() error
}

func (a *app) close(log *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn("failed to release resource", "error", err)
		}
	}
}

// backend is the raw ledger plus the pieces only one backend provides.
type backend struct {
	client   ledger.Client
	sink     provenance.RejectionSink
	envelope transfer.EnvelopeSink
	ingestor *indexer.Ingestor
	checks   map[string]httptransport.HealthCheck
}

func wire(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close(log)
		}
	}()

	m := metrics.New(nil)
	checks := map[string]httptransport.HealthCheck{}

	db, err := openPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	var (
		auditStore audit.Store     = auditmem.NewInMemoryStore()
		migStore   migration.Store = migrationstore.NewInMemory()
	)
	if db != nil {
		a.closers = append(a.closers, db.Close)
		auditStore = auditpg.New(db)
		migStore = migrationstore.NewPostgres(db)
		checks["postgres"] = db.PingContext
	}
	pub := publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(cfg.Audit.Buffer),
		publisher.WithSampler(publisher.NewSampler(cfg.Audit.OpsSampleRate)),
		publisher.WithLogger(log),
	)
	a.closers = append(a.closers, func() error { pub.Close(); return nil })

	cache, err := rejectionCache(ctx, cfg.Redis, a, checks)
	if err != nil {
		return nil, err
	}

	var be *backend
	switch cfg.Ledger.Backend {
	case config.BackendKafka:
		be, err = kafkaBackend(ctx, cfg, a, log)
	default:
		be, err = memoryBackend(ctx, cfg, log)
	}
	if err != nil {
		return nil, err
	}
	for name, check := range be.checks {
		checks[name] = check
	}

	client, err := resilient.New(be.client,
		resilient.WithTimeout(cfg.Ledger.CallTimeout.Duration),
		resilient.WithRetries(cfg.Ledger.RetryAttempts, resilient.Backoff{
			InitialDelay: cfg.Ledger.RetryInitial.Duration,
			MaxDelay:     cfg.Ledger.RetryMax.Duration,
			Multiplier:   2,
			Jitter:       true,
		}),
		resilient.WithBreaker(circuit.New("ledger",
			circuit.WithFailureThreshold(cfg.Ledger.BreakerFailure),
			circuit.WithCooldown(cfg.Ledger.BreakerCool.Duration),
		)),
		resilient.WithMetrics(m),
		resilient.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	env, err := envelope.New(envelope.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("generate gate keys: %w", err)
	}

	filterOpts := []provenance.Option{
		provenance.WithPolicy(provenance.NewPolicy(cfg.Provenance.Exchanges, cfg.Provenance.Markers, cfg.Provenance.Window)),
		provenance.WithHistoryRate(cfg.Provenance.HistoryQPS, cfg.Provenance.Burst),
		provenance.WithAuditor(pub),
		provenance.WithMetrics(m),
		provenance.WithLogger(log),
	}
	if be.sink != nil {
		filterOpts = append(filterOpts, provenance.WithRejectionSink(be.sink))
	}
	filter, err := provenance.New(client, cache, filterOpts...)
	if err != nil {
		return nil, err
	}

	monitor, err := readiness.New(client,
		readiness.WithInterval(cfg.Readiness.Interval.Duration),
		readiness.WithWindow(cfg.Readiness.Window),
		readiness.WithThreshold(cfg.Readiness.Threshold),
		readiness.WithTimeout(cfg.Readiness.Timeout.Duration),
		readiness.WithMetrics(m),
		readiness.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	engine := consensus.New(consensus.NewRandomSource(), consensus.WithMetrics(m), consensus.WithLogger(log))
	controller, err := migration.New(migStore, monitor, engine, filter,
		migration.WithVoting(cfg.Consensus.BatchSize, cfg.Consensus.Probability, cfg.Consensus.Threshold),
		migration.WithAuditor(pub),
		migration.WithMetrics(m),
		migration.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	execOpts := []transfer.Option{
		transfer.WithFee(cfg.Transfer.Fee),
		transfer.WithAuditor(pub),
		transfer.WithMetrics(m),
		transfer.WithLogger(log),
	}
	if be.envelope != nil {
		execOpts = append(execOpts, transfer.WithEnvelopeSink(be.envelope))
	}
	executor, err := transfer.New(filter, env, client, client, cfg.Ledger.Account, execOpts...)
	if err != nil {
		return nil, err
	}

	g := gate.New(
		gate.WithRestartBackoff(resilient.Backoff{
			InitialDelay: cfg.Listener.RestartDelay.Duration,
			MaxDelay:     cfg.Listener.RestartMax.Duration,
			Multiplier:   2,
			Jitter:       true,
		}),
		gate.WithLogger(log),
	)
	g.Add("readiness", monitor)

	if len(cfg.Transfer.Pairs) > 0 {
		pairs := make([]transfer.Pair, 0, len(cfg.Transfer.Pairs))
		for _, p := range cfg.Transfer.Pairs {
			pairs = append(pairs, transfer.Pair{AssetID: ledger.AssetID(p.AssetID), Destination: p.Destination})
		}
		driver, err := transfer.NewDriver(executor, pairs,
			transfer.WithDriverInterval(cfg.Transfer.DriverInterval.Duration),
			transfer.WithDriverLogger(log),
		)
		if err != nil {
			return nil, err
		}
		g.Add("driver", driver)
	}

	if cfg.Listener.Enabled {
		results := make(chan listener.Result, resultsBuffer)
		lst, err := listener.New(client, filter, executor, controller,
			listener.WithWorkers(cfg.Listener.Workers),
			listener.WithResults(results),
			listener.WithIgnoredSources(cfg.Ledger.Account),
			listener.WithMetrics(m),
			listener.WithLogger(log),
		)
		if err != nil {
			return nil, err
		}
		g.AddRestarting("listener", lst)
		g.Add("results", gate.NewResultSink(results, log))
	}
	if be.ingestor != nil {
		g.AddRestarting("indexer", be.ingestor)
	}

	handler, err := httptransport.New(httptransport.Services{
		Transfers:  executor,
		Migrations: controller,
		Rejections: filter,
		Readiness:  monitor,
		Keys:       env,
		Auditor:    pub,
		Checks:     checks,
	}, log)
	if err != nil {
		return nil, err
	}
	validator := jwttoken.NewJWTServiceAdapter(
		jwttoken.NewJWTService(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.Audience),
	)
	router := httptransport.NewRouter(handler, validator, nil, log, cfg.Auth.Roles...)
	srv := httpserver.New(cfg.Server.Addr, router)
	g.Add("http", gate.RunFunc(func(ctx context.Context) error {
		return httpserver.Serve(ctx, srv, cfg.Server.ShutdownTimeout.Duration)
	}))

	a.gate = g
	return a, nil
}

func openPostgres(ctx context.Context, cfg config.Postgres) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, schema := range []string{migrationstore.Schema, auditpg.Schema} {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return db, nil
}

func rejectionCache(ctx context.Context, cfg config.Redis, a *app, checks map[string]httptransport.HealthCheck) (provenance.RejectionCache, error) {
	rdb, err := platformredis.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if rdb == nil {
		return provenancestore.NewInMemory(), nil
	}
	a.closers = append(a.closers, rdb.Close)
	checks["redis"] = rdb.Health
	return provenancestore.NewRedis(rdb.Client), nil
}

// memoryBackend runs an in-process ledger settled by the stable-coin
// contract, owned by the gate account.
func memoryBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (*backend, error) {
	host := contract.NewMemoryHost(contract.WithHostLogger(log))
	owner, err := contract.NewClient(host, cfg.Ledger.Account)
	if err != nil {
		return nil, err
	}
	if err := owner.Init(ctx, cfg.Ledger.Account); err != nil {
		return nil, fmt.Errorf("init contract: %w", err)
	}
	l := memory.New(memory.WithSettler(contract.NewSettler(host)), memory.WithLogger(log))
	l.CreateAccount(cfg.Ledger.Account, 0)
	return &backend{
		client: l,
		sink:   contract.NewRegistrar(owner),
	}, nil
}

// kafkaBackend reads history from the indexer, streams and submits through
// Kafka, and keeps the indexer fed from the stream.
func kafkaBackend(ctx context.Context, cfg config.Config, a *app, log *slog.Logger) (*backend, error) {
	kcfg := kafka.Config{
		Brokers:           cfg.Kafka.Brokers,
		TransactionsTopic: cfg.Kafka.TransactionsTopic,
		SubmissionsTopic:  cfg.Kafka.SubmissionsTopic,
		EnvelopesTopic:    cfg.Kafka.EnvelopesTopic,
	}
	if err := kafka.EnsureTopics(ctx, kcfg, 1, 1); err != nil {
		return nil, err
	}

	pool, err := indexer.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	if _, err := pool.Exec(ctx, indexer.Schema); err != nil {
		return nil, fmt.Errorf("apply indexer schema: %w", err)
	}
	reader := indexer.New(pool)

	producer, err := kafka.NewProducer(kcfg, kafka.WithLogger(log))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return producer.Close(context.Background()) })

	stream, err := kafka.NewStream(kcfg, kafka.WithLogger(log))
	if err != nil {
		return nil, err
	}
	ingestor, err := indexer.NewIngestor(stream, reader, log)
	if err != nil {
		return nil, err
	}

	return &backend{
		client:   ledger.Compose(reader, indexer.NewSequenceTracker(producer, reader), reader, stream),
		envelope: producer,
		ingestor: ingestor,
		checks: map[string]httptransport.HealthCheck{
			"indexer": pool.Ping,
			"kafka":   producer.Client().Ping,
		},
	}, nil
}
