package ledger

import "time"

// Config tunes retry, confirmation and caching behavior.
type Config struct {
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
	RoleCacheSize       int
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:         5,
		InitialBackoff:      time.Second,
		MaxBackoff:          30 * time.Second,
		CallTimeout:         15 * time.Second,
		ConfirmationTimeout: 2 * time.Minute,
		PollInterval:        2 * time.Second,
		LockTTL:             20 * time.Minute,
		LockWait:            30 * time.Second,
		QueueSize:           64,
		RoleCacheTTL:        time.Minute,
		RoleCacheSize:       256,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.ConfirmationTimeout <= 0 {
		c.ConfirmationTimeout = d.ConfirmationTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.LockTTL <= 0 {
		c.LockTTL = d.LockTTL
	}
	if c.LockWait <= 0 {
		c.LockWait = d.LockWait
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.RoleCacheTTL <= 0 {
		c.RoleCacheTTL = d.RoleCacheTTL
	}
	if c.RoleCacheSize <= 0 {
		c.RoleCacheSize = d.RoleCacheSize
	}
	return c
}
