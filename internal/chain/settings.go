package chain

import (
	"errors"
	"time"
)

// Strategy decides what happens when an endpoint exhausts its attempts.
type Strategy int

const (
	// TryNextOnError moves on to the next endpoint of the pool.
	TryNextOnError Strategy = iota
	// AbortOnError gives up at the first endpoint that fails.
	AbortOnError
)

func (s Strategy) String() string {
	switch s {
	case TryNextOnError:
		return "try-next-on-error"
	case AbortOnError:
		return "abort-on-error"
	default:
		return "unknown"
	}
}

// FailoverConfig bounds retries against the node pool.
type FailoverConfig struct {
	AttemptsPerEndpoint int
	AttemptInterval     time.Duration
	Strategy            Strategy
}

// DefaultFailoverConfig mirrors the dApp defaults: 20 attempts per endpoint, then the next one.
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		AttemptsPerEndpoint: 20,
		AttemptInterval:     500 * time.Millisecond,
		Strategy:            TryNextOnError,
	}
}

// Settings are the connection parameters of one chain. Exactly one of the pools and one
// of BlockchainRID / BlockchainIID is expected.
type Settings struct {
	NodeURLPool          []string
	DirectoryNodeURLPool []string
	BlockchainRID        string
	BlockchainIID        *int
	Failover             FailoverConfig
}

func (s Settings) Validate() error {
	if len(s.NodeURLPool) == 0 && len(s.DirectoryNodeURLPool) == 0 {
		return errors.New("chain settings: a node url pool or directory node url pool is required")
	}
	if s.BlockchainRID == "" && s.BlockchainIID == nil {
		return errors.New("chain settings: a blockchain rid or chain id is required")
	}
	return nil
}

func normalizeFailover(cfg FailoverConfig) FailoverConfig {
	if cfg.AttemptsPerEndpoint <= 0 {
		cfg.AttemptsPerEndpoint = 1
	}
	if cfg.AttemptInterval < 0 {
		cfg.AttemptInterval = 0
	}
	return cfg
}
