// Package config loads server configuration from the environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Server captures process-level configuration.
type Server struct {
	Addr        string
	Environment string
	LogLevel    string
	LogFormat   string
	AdminJWTKey string

	Signer   SignerConfig
	Ledger   LedgerConfig
	Blob     BlobConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Model    ModelConfig
	Pipeline PipelineConfig
}

// SignerConfig holds the validator identity. Address, when set, must match
// the key.
type SignerConfig struct {
	PrivateKey string
	Address    string
}

// LedgerConfig selects and tunes the registry backend. An empty RPCURL runs
// against the in-memory chain.
type LedgerConfig struct {
	RPCURL              string
	ChainID             int64
	ContractAddress     string
	GasLimit            uint64
	MaxAttempts         int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	CallTimeout         time.Duration
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
	LockTTL             time.Duration
	LockWait            time.Duration
	QueueSize           int
	RoleCacheTTL        time.Duration
}

// BlobConfig selects the attestation store: "ipfs", "s3" or "memory".
type BlobConfig struct {
	Backend          string
	IPFSURL          string
	S3Bucket         string
	S3Prefix         string
	S3Region         string
	S3Endpoint       string
	S3PathStyle      bool
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	MemoryFallback   bool
}

type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the cross-replica signer lock. An empty URL
// disables locking.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LockPrefix   string
}

type KafkaConfig struct {
	Brokers           []string
	Topic             string
	Partitions        int32
	ReplicationFactor int16
	ClientID          string
	ProduceTimeout    time.Duration
}

type ModelConfig struct {
	Contamination float64
	HistoryLimit  int
}

type PipelineConfig struct {
	LedgerTimeout    time.Duration
	AuditBufferSize  int
	SchemaMaxBodyKiB int64
	// RateLimit is the submissions allowed per client IP per RateWindow.
	// Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// ErrMissingSigningKey is returned when no validator key is configured.
var ErrMissingSigningKey = errors.New("validator signing key is required (CARBONPROOF_SIGNER_PRIVATE_KEY)")

// Load reads configuration. path may name a config file; an empty path only
// reads the environment. Keys map to env vars with a CARBONPROOF_ prefix,
// e.g. ledger.rpc_url -> CARBONPROOF_LEDGER_RPC_URL.
func Load(path string) (Server, error) {
	v := viper.New()
	v.SetEnvPrefix("carbonproof")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Server{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Server{
		Addr:        v.GetString("addr"),
		Environment: v.GetString("environment"),
		LogLevel:    v.GetString("log.level"),
		LogFormat:   v.GetString("log.format"),
		AdminJWTKey: v.GetString("admin.jwt_key"),
		Signer: SignerConfig{
			PrivateKey: v.GetString("signer.private_key"),
			Address:    v.GetString("signer.address"),
		},
		Ledger: LedgerConfig{
			RPCURL:              v.GetString("ledger.rpc_url"),
			ChainID:             v.GetInt64("ledger.chain_id"),
			ContractAddress:     v.GetString("ledger.contract_address"),
			GasLimit:            v.GetUint64("ledger.gas_limit"),
			MaxAttempts:         v.GetInt("ledger.max_attempts"),
			InitialBackoff:      v.GetDuration("ledger.initial_backoff"),
			MaxBackoff:          v.GetDuration("ledger.max_backoff"),
			CallTimeout:         v.GetDuration("ledger.call_timeout"),
			ConfirmationTimeout: v.GetDuration("ledger.confirmation_timeout"),
			PollInterval:        v.GetDuration("ledger.poll_interval"),
			LockTTL:             v.GetDuration("ledger.lock_ttl"),
			LockWait:            v.GetDuration("ledger.lock_wait"),
			QueueSize:           v.GetInt("ledger.queue_size"),
			RoleCacheTTL:        v.GetDuration("ledger.role_cache_ttl"),
		},
		Blob: BlobConfig{
			Backend:          strings.ToLower(v.GetString("blob.backend")),
			IPFSURL:          v.GetString("blob.ipfs_url"),
			S3Bucket:         v.GetString("blob.s3_bucket"),
			S3Prefix:         v.GetString("blob.s3_prefix"),
			S3Region:         v.GetString("blob.s3_region"),
			S3Endpoint:       v.GetString("blob.s3_endpoint"),
			S3PathStyle:      v.GetBool("blob.s3_path_style"),
			Timeout:          v.GetDuration("blob.timeout"),
			FailureThreshold: v.GetInt("blob.failure_threshold"),
			Cooldown:         v.GetDuration("blob.cooldown"),
			MemoryFallback:   v.GetBool("blob.memory_fallback"),
		},
		Postgres: PostgresConfig{
			URL:             v.GetString("postgres.url"),
			MaxOpenConns:    v.GetInt("postgres.max_open_conns"),
			MaxIdleConns:    v.GetInt("postgres.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("postgres.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("redis.url"),
			PoolSize:     v.GetInt("redis.pool_size"),
			MinIdleConns: v.GetInt("redis.min_idle_conns"),
			DialTimeout:  v.GetDuration("redis.dial_timeout"),
			ReadTimeout:  v.GetDuration("redis.read_timeout"),
			WriteTimeout: v.GetDuration("redis.write_timeout"),
			LockPrefix:   v.GetString("redis.lock_prefix"),
		},
		Kafka: KafkaConfig{
			Brokers:           splitList(v.GetStringSlice("kafka.brokers")),
			Topic:             v.GetString("kafka.topic"),
			Partitions:        v.GetInt32("kafka.partitions"),
			ReplicationFactor: int16(v.GetInt("kafka.replication_factor")),
			ClientID:          v.GetString("kafka.client_id"),
			ProduceTimeout:    v.GetDuration("kafka.produce_timeout"),
		},
		Model: ModelConfig{
			Contamination: v.GetFloat64("model.contamination"),
			HistoryLimit:  v.GetInt("model.history_limit"),
		},
		Pipeline: PipelineConfig{
			LedgerTimeout:    v.GetDuration("pipeline.ledger_timeout"),
			AuditBufferSize:  v.GetInt("pipeline.audit_buffer_size"),
			SchemaMaxBodyKiB: v.GetInt64("pipeline.max_body_kib"),
			RateLimit:        v.GetInt("pipeline.rate_limit"),
			RateWindow:       v.GetDuration("pipeline.rate_window"),
		},
	}
	if err := cfg.validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("environment", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")

	v.SetDefault("ledger.chain_id", 31337)
	v.SetDefault("ledger.max_attempts", 5)
	v.SetDefault("ledger.initial_backoff", time.Second)
	v.SetDefault("ledger.max_backoff", 30*time.Second)
	v.SetDefault("ledger.call_timeout", 15*time.Second)
	v.SetDefault("ledger.confirmation_timeout", 2*time.Minute)
	v.SetDefault("ledger.poll_interval", 2*time.Second)
	v.SetDefault("ledger.lock_ttl", 20*time.Minute)
	v.SetDefault("ledger.lock_wait", 30*time.Second)
	v.SetDefault("ledger.queue_size", 64)
	v.SetDefault("ledger.role_cache_ttl", time.Minute)

	v.SetDefault("blob.backend", "memory")
	v.SetDefault("blob.timeout", 10*time.Second)
	v.SetDefault("blob.failure_threshold", 5)
	v.SetDefault("blob.cooldown", 30*time.Second)
	v.SetDefault("blob.s3_prefix", "attestations")

	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.lock_prefix", "carbonproof:lock:")

	v.SetDefault("kafka.topic", "carbonproof.audit")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.replication_factor", 1)
	v.SetDefault("kafka.client_id", "carbonproof")
	v.SetDefault("kafka.produce_timeout", 5*time.Second)

	v.SetDefault("model.contamination", 0.1)
	v.SetDefault("model.history_limit", 5000)

	v.SetDefault("pipeline.ledger_timeout", 3*time.Minute)
	v.SetDefault("pipeline.audit_buffer_size", 1024)
	v.SetDefault("pipeline.max_body_kib", 256)
	v.SetDefault("pipeline.rate_limit", 60)
	v.SetDefault("pipeline.rate_window", time.Minute)
}

func (c Server) validate() error {
	if c.Signer.PrivateKey == "" {
		return ErrMissingSigningKey
	}
	if c.Ledger.RPCURL != "" && c.Ledger.ContractAddress == "" {
		return errors.New("ledger.contract_address is required when ledger.rpc_url is set")
	}
	switch c.Blob.Backend {
	case "memory", "ipfs":
	case "s3":
		if c.Blob.S3Bucket == "" {
			return errors.New("blob.s3_bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown blob backend %q", c.Blob.Backend)
	}
	return nil
}

// IsProduction reports whether the server runs with production defaults.
func (c Server) IsProduction() bool {
	return c.Environment == "production"
}

// splitList accepts both list values and a single comma-separated env var.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
