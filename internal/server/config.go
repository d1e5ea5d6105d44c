// Package server derives per-connection limits from the relay configuration.
package server

import (
	"time"

	"github.com/Tyrowin/chattrace/internal/config"
)

// ClientOptions holds the per-connection limits applied by the hub.
type ClientOptions struct {
	MaxMessageSize int64
	SendBuffer     int
	RateBurst      int
	RateInterval   time.Duration
}

// DefaultClientOptions returns the limits used when none are configured.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		MaxMessageSize: config.DefaultMaxMessageSize,
		SendBuffer:     256,
		RateBurst:      config.DefaultRateLimitBurst,
		RateInterval:   config.DefaultRateRefillInterval,
	}
}

// ClientOptionsFrom builds the per-connection limits from cfg.
func ClientOptionsFrom(cfg config.Config) ClientOptions {
	opts := DefaultClientOptions()
	opts.MaxMessageSize = cfg.MaxMessageSize
	opts.RateBurst = cfg.RateLimit.Burst
	opts.RateInterval = cfg.RateLimit.RefillInterval
	return sanitizeClientOptions(opts)
}

func sanitizeClientOptions(opts ClientOptions) ClientOptions {
	def := DefaultClientOptions()

	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}

	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}

	if opts.RateBurst <= 0 {
		opts.RateBurst = def.RateBurst
	}

	if opts.RateInterval <= 0 {
		opts.RateInterval = def.RateInterval
	}

	return opts
}
