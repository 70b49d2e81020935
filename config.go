package ledger

import (
	"fmt"
	"time"

	"github.com/Rhymond/go-money"
)

// Config holds everything an Engine needs to know about its environment.
//
// Its lifecycle is the lifecycle of one Engine: the parser and the store read
// it at construction, and never look at any package level state.
type Config struct {
	// Root is the folder containing accounts, locks, pending transfers and logs.
	Root string
	// Currency is the ISO 4217 code used to display amounts, amounts are
	// always counted in this currency's minor units.
	Currency string
	// LockTimeout bounds the time spent waiting for another process to
	// release an account.
	LockTimeout time.Duration
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() Config {
	return Config{
		Root:        ".ledger",
		Currency:    money.BRL,
		LockTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration and fills defaults for zero values.
func (c Config) Validate() (Config, error) {
	def := DefaultConfig()
	if c.Root == "" {
		c.Root = def.Root
	}
	if c.Currency == "" {
		c.Currency = def.Currency
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = def.LockTimeout
	}
	if money.GetCurrency(c.Currency) == nil {
		return c, fmt.Errorf("unknown currency %q", c.Currency)
	}
	return c, nil
}
