package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"carbonproof/internal/attestation"
	"carbonproof/internal/blob"
	"carbonproof/internal/blob/ipfs"
	blobmemory "carbonproof/internal/blob/memory"
	blobmetrics "carbonproof/internal/blob/metrics"
	"carbonproof/internal/blob/s3"
	jwttoken "carbonproof/internal/jwt_token"
	"carbonproof/internal/ledger"
	"carbonproof/internal/ledger/ethereum"
	"carbonproof/internal/ledger/lock"
	chainmem "carbonproof/internal/ledger/memory"
	ledgermetrics "carbonproof/internal/ledger/metrics"
	ledgerstoremem "carbonproof/internal/ledger/store/memory"
	ledgerstorepg "carbonproof/internal/ledger/store/postgres"
	"carbonproof/internal/pipeline"
	pipelinemetrics "carbonproof/internal/pipeline/metrics"
	"carbonproof/internal/platform/config"
	"carbonproof/internal/platform/kafka"
	"carbonproof/internal/platform/metrics"
	"carbonproof/internal/platform/postgres"
	"carbonproof/internal/platform/redis"
	"carbonproof/internal/ratelimit"
	httptransport "carbonproof/internal/transport/http"
	"carbonproof/internal/validation/anomaly"
	anomalymetrics "carbonproof/internal/validation/anomaly/metrics"
	historymem "carbonproof/internal/validation/history/memory"
	historypg "carbonproof/internal/validation/history/postgres"
	"carbonproof/internal/validation/rules"
	audit "carbonproof/pkg/platform/audit"
	"carbonproof/pkg/platform/audit/publisher"
	auditkafka "carbonproof/pkg/platform/audit/store/kafka"
	auditmemory "carbonproof/pkg/platform/audit/store/memory"
	auditpg "carbonproof/pkg/platform/audit/store/postgres"
	"carbonproof/pkg/platform/circuit"
)

const (
	jwtIssuer   = "carbonproof"
	jwtAudience = "carbonproof-admin"

	rateLimitPrefix = "carbonproof:ratelimit:"
)

type historyStore interface {
	pipeline.HistoryRecorder
	anomaly.HistorySource
}

type application struct {
	log       *slog.Logger
	signer    *attestation.Service
	submitter *ledger.Submitter
	handler   *httptransport.Handler
	auditor   *publisher.Publisher
	closers   []func()
}

func (a *application) close() {
	if a.auditor != nil {
		if err := a.auditor.Close(); err != nil {
			a.log.Warn("failed to flush audit events", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// wire builds every adapter from cfg. Optional backends (postgres, redis,
// kafka, an RPC endpoint) fall back to in-memory implementations when unset.
func wire(ctx context.Context, cfg config.Server, log *slog.Logger) (*application, error) {
	app := &application{log: log}
	var checks []httptransport.Option

	key, err := attestation.NewKeySigner(cfg.Signer.PrivateKey, cfg.Signer.Address)
	if err != nil {
		return nil, fmt.Errorf("load validator key: %w", err)
	}
	app.signer, err = attestation.New(key)
	if err != nil {
		return nil, err
	}

	db, err := postgres.Open(ctx, postgres.Config{
		URL:             cfg.Postgres.URL,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if db != nil {
		app.closers = append(app.closers, func() { _ = db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			app.close()
			return nil, err
		}
		checks = append(checks, httptransport.WithHealthCheck("postgres", db.PingContext))
	} else {
		log.Warn("postgres not configured, using in-memory stores")
	}

	kafkaClient, err := kafka.NewClient(kafka.Config{
		Brokers:           cfg.Kafka.Brokers,
		Topic:             cfg.Kafka.Topic,
		Partitions:        cfg.Kafka.Partitions,
		ReplicationFactor: cfg.Kafka.ReplicationFactor,
		ClientID:          cfg.Kafka.ClientID,
		ProduceTimeout:    cfg.Kafka.ProduceTimeout,
	})
	if err != nil {
		app.close()
		return nil, err
	}
	if kafkaClient != nil {
		app.closers = append(app.closers, kafkaClient.Close)
		if err := kafka.EnsureTopic(ctx, kafkaClient, kafka.Config{
			Topic:             cfg.Kafka.Topic,
			Partitions:        cfg.Kafka.Partitions,
			ReplicationFactor: cfg.Kafka.ReplicationFactor,
		}); err != nil {
			app.close()
			return nil, err
		}
		checks = append(checks, httptransport.WithHealthCheck("kafka", kafkaClient.Ping))
	}
	app.auditor = publisher.NewPublisher(auditStore(db, kafkaClient, cfg.Kafka.Topic),
		publisher.WithAsyncBuffer(cfg.Pipeline.AuditBufferSize),
		publisher.WithLogger(log),
	)

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		app.close()
		return nil, err
	}
	if redisClient != nil {
		app.closers = append(app.closers, func() { _ = redisClient.Close() })
		checks = append(checks, httptransport.WithHealthCheck("redis", redisClient.Health))
	}

	chain, err := dialChain(ctx, cfg.Ledger, key, log)
	if err != nil {
		app.close()
		return nil, err
	}
	if ec, ok := chain.(*ethereum.Chain); ok {
		app.closers = append(app.closers, ec.Close)
	}

	ledgerOpts := []ledger.Option{
		ledger.WithLogger(log),
		ledger.WithMetrics(ledgermetrics.New()),
		ledger.WithConfig(ledgerConfig(cfg.Ledger)),
	}
	if redisClient != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithLock(lock.NewRedisLock(redisClient.Client, cfg.Redis.LockPrefix)))
	}
	var txStore ledger.Store = ledgerstoremem.New()
	if db != nil {
		txStore = ledgerstorepg.New(db)
	}
	app.submitter, err = ledger.New(chain, txStore, ledgerOpts...)
	if err != nil {
		app.close()
		return nil, err
	}

	blobs, blobCheck, err := blobStore(ctx, cfg.Blob, log)
	if err != nil {
		app.close()
		return nil, err
	}
	if blobCheck != nil {
		checks = append(checks, httptransport.WithHealthCheck("blob", blobCheck))
	}

	var history historyStore = historymem.New()
	if db != nil {
		history = historypg.New(db)
	}
	scorer := anomaly.New(
		anomaly.WithLogger(log),
		anomaly.WithMetrics(anomalymetrics.New()),
		anomaly.WithContamination(cfg.Model.Contamination),
		anomaly.WithHistoryLimit(cfg.Model.HistoryLimit),
	)
	if err := scorer.Init(ctx, history); err != nil {
		app.close()
		return nil, fmt.Errorf("initialize anomaly model: %w", err)
	}

	pipe, err := pipeline.New(rules.New(), scorer, app.signer, blobs,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(pipelinemetrics.New()),
		pipeline.WithAuditor(app.auditor),
		pipeline.WithHistory(history),
		pipeline.WithLedger(app.submitter),
		pipeline.WithLedgerTimeout(cfg.Pipeline.LedgerTimeout),
		pipeline.WithBlobTimeout(cfg.Blob.Timeout),
	)
	if err != nil {
		app.close()
		return nil, err
	}

	var limitStore ratelimit.Store = ratelimit.NewMemoryStore()
	if redisClient != nil {
		limitStore = ratelimit.NewRedisStore(redisClient.Client, rateLimitPrefix)
	}

	opts := append([]httptransport.Option{
		httptransport.WithLogger(log),
		httptransport.WithMetrics(metrics.New()),
		httptransport.WithAuditor(app.auditor),
		httptransport.WithModelManager(scorer),
		httptransport.WithMaxBodyBytes(cfg.Pipeline.SchemaMaxBodyKiB << 10),
		httptransport.WithRateLimiter(ratelimit.New(limitStore, cfg.Pipeline.RateLimit, cfg.Pipeline.RateWindow,
			ratelimit.WithLogger(log),
		)),
	}, checks...)
	if cfg.AdminJWTKey != "" {
		jwtService := jwttoken.NewJWTService(cfg.AdminJWTKey, jwtIssuer, jwtAudience)
		opts = append(opts, httptransport.WithJWTValidator(jwttoken.NewJWTServiceAdapter(jwtService)))
	} else {
		log.Warn("admin JWT key not configured, model endpoints disabled")
	}
	app.handler, err = httptransport.New(pipe, app.submitter, opts...)
	if err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

// checkSignerRole warns when the validator cannot authorize projects. The
// service still starts so that rejections are attested and stored.
func (a *application) checkSignerRole(ctx context.Context) {
	signer := a.submitter.Sender()
	ok, err := a.submitter.HasRole(ctx, signer)
	switch {
	case err != nil:
		a.log.WarnContext(ctx, "could not check validator role", "signer", signer, "error", err)
	case !ok:
		a.log.WarnContext(ctx, "signer lacks the validator role; ledger authorizations will revert", "signer", signer)
		if err := a.auditor.Emit(ctx, audit.Event{
			Action: string(audit.EventSignerRoleMissing),
			Signer: signer,
		}); err != nil {
			a.log.WarnContext(ctx, "failed to emit audit event", "error", err)
		}
	}
}

func dialChain(ctx context.Context, cfg config.LedgerConfig, key *attestation.ECDSAKeySigner, log *slog.Logger) (ledger.Chain, error) {
	if cfg.RPCURL == "" {
		log.Warn("ledger RPC not configured, using in-memory chain")
		return chainmem.NewChain(key.Address()), nil
	}
	chain, err := ethereum.Dial(ctx, ethereum.Config{
		RPCURL:          cfg.RPCURL,
		ContractAddress: cfg.ContractAddress,
		ChainID:         cfg.ChainID,
		GasLimit:        cfg.GasLimit,
	}, key.PrivateKey(), ethereum.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("dial ledger: %w", err)
	}
	return chain, nil
}

func ledgerConfig(cfg config.LedgerConfig) ledger.Config {
	out := ledger.DefaultConfig()
	if cfg.MaxAttempts > 0 {
		out.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoff > 0 {
		out.InitialBackoff = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		out.MaxBackoff = cfg.MaxBackoff
	}
	if cfg.CallTimeout > 0 {
		out.CallTimeout = cfg.CallTimeout
	}
	if cfg.ConfirmationTimeout > 0 {
		out.ConfirmationTimeout = cfg.ConfirmationTimeout
	}
	if cfg.PollInterval > 0 {
		out.PollInterval = cfg.PollInterval
	}
	if cfg.LockTTL > 0 {
		out.LockTTL = cfg.LockTTL
	}
	if cfg.LockWait > 0 {
		out.LockWait = cfg.LockWait
	}
	if cfg.QueueSize > 0 {
		out.QueueSize = cfg.QueueSize
	}
	if cfg.RoleCacheTTL > 0 {
		out.RoleCacheTTL = cfg.RoleCacheTTL
	}
	return out
}

func blobStore(ctx context.Context, cfg config.BlobConfig, log *slog.Logger) (pipeline.BlobStore, httptransport.HealthCheck, error) {
	var (
		primary blob.Store
		check   httptransport.HealthCheck
	)
	switch cfg.Backend {
	case "ipfs":
		store, err := ipfs.New(cfg.IPFSURL, cfg.Timeout, ipfs.WithLogger(log))
		if err != nil {
			return nil, nil, fmt.Errorf("connect ipfs: %w", err)
		}
		primary, check = store, store.Ping
	case "s3":
		store, err := s3.New(ctx, s3.Config{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		}, s3.WithLogger(log))
		if err != nil {
			return nil, nil, fmt.Errorf("configure s3: %w", err)
		}
		primary = store
	default:
		return blobmemory.New(), nil, nil
	}

	opts := []blob.FallbackOption{
		blob.WithLogger(log),
		blob.WithMetrics(blobmetrics.New()),
		blob.WithTimeout(cfg.Timeout),
		blob.WithBreaker(circuit.New("blob-"+cfg.Backend,
			circuit.WithFailureThreshold(cfg.FailureThreshold),
			circuit.WithCooldown(cfg.Cooldown),
		)),
	}
	if cfg.MemoryFallback {
		log.Warn("blob memory fallback enabled; attestations stored during an outage are not durable")
		opts = append(opts, blob.WithSecondary("memory", blobmemory.New()))
	}
	store, err := blob.NewFallbackStore(cfg.Backend, primary, opts...)
	if err != nil {
		return nil, nil, err
	}
	return store, check, nil
}

func auditStore(db *sql.DB, client *kgo.Client, topic string) audit.Store {
	switch {
	case client != nil:
		return auditkafka.New(client, topic)
	case db != nil:
		return auditpg.New(db)
	default:
		return auditmemory.NewInMemoryStore()
	}
}
