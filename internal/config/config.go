// Package config loads the service configuration from YAML, applies
// CURVEDEX_* environment overrides, validates it and watches it for changes.
package config

import (
	"fmt"
	"math/big"

	"github.com/shizukutanaka/curvedex/internal/api"
	"github.com/shizukutanaka/curvedex/internal/backup"
	"github.com/shizukutanaka/curvedex/internal/cache"
	"github.com/shizukutanaka/curvedex/internal/database"
	"github.com/shizukutanaka/curvedex/internal/dex"
	"github.com/shizukutanaka/curvedex/internal/logging"
	"github.com/shizukutanaka/curvedex/internal/monitoring"
	"github.com/shizukutanaka/curvedex/internal/units"
)

// EnvPrefix prefixes every environment override, e.g.
// CURVEDEX_STORAGE_DRIVER=sqlite.
const EnvPrefix = "CURVEDEX"

// Config is the application configuration.
type Config struct {
	Market     MarketConfig             `yaml:"market"`
	Storage    StorageConfig            `yaml:"storage"`
	API        api.Config               `yaml:"api"`
	Monitoring monitoring.MetricsConfig `yaml:"monitoring"`
	Logging    logging.Config           `yaml:"logging"`
	Backup     backup.Config            `yaml:"backup"`
}

// MarketConfig seeds the market at genesis. Prices and the fee divisor are
// integers in base units; the staking requirement is in whole tokens and may
// carry up to 18 decimals.
type MarketConfig struct {
	Name                  string   `yaml:"name" validate:"required,max=64"`
	Symbol                string   `yaml:"symbol" validate:"required,max=16"`
	DividendFee           string   `yaml:"dividend_fee" validate:"required,base_units"`
	TokenPriceInitial     string   `yaml:"token_price_initial" validate:"required,base_units"`
	TokenPriceIncremental string   `yaml:"token_price_incremental" validate:"required,base_units"`
	StakingRequirement    string   `yaml:"staking_requirement" validate:"required,amount"`
	Administrators        []string `yaml:"administrators" validate:"dive,required"`
	Ambassadors           []string `yaml:"ambassadors" validate:"dive,required"`
	RestrictedPhase       bool     `yaml:"restricted_phase"`
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	// Driver is one of memory, bolt, sqlite or postgres.
	Driver   string          `yaml:"driver" validate:"oneof=memory bolt sqlite postgres"`
	Path     string          `yaml:"path" validate:"required_if=Driver bolt"`
	Database database.Config `yaml:"database"`
	Cache    CacheConfig     `yaml:"cache"`
}

// CacheConfig puts a read cache in front of the backend.
type CacheConfig struct {
	Enabled      bool `yaml:"enabled"`
	cache.Config `yaml:",inline"`
}

// DefaultConfig returns the stock configuration: a bolt ledger under ./data,
// the API on :8080 and metrics on :9090.
func DefaultConfig() *Config {
	params := dex.DefaultParams()
	return &Config{
		Market: MarketConfig{
			Name:                  params.Name,
			Symbol:                params.Symbol,
			DividendFee:           params.DividendFee.String(),
			TokenPriceInitial:     params.TokenPriceInitial.String(),
			TokenPriceIncremental: params.TokenPriceIncremental.String(),
			StakingRequirement:    units.Format(params.StakingRequirement),
		},
		Storage: StorageConfig{
			Driver:   "bolt",
			Path:     "./data/curvedex.bolt",
			Database: database.DefaultConfig(),
			Cache: CacheConfig{
				Enabled: false,
				Config:  cache.DefaultConfig(),
			},
		},
		API:        api.DefaultConfig(),
		Monitoring: monitoring.DefaultMetricsConfig(),
		Logging:    *logging.DefaultConfig(),
		Backup:     backup.DefaultConfig(),
	}
}

// Params converts the market section into market parameters.
func (c MarketConfig) Params() (dex.Params, error) {
	fee, err := units.ParseBaseUnits(c.DividendFee)
	if err != nil {
		return dex.Params{}, fmt.Errorf("dividend_fee: %w", err)
	}
	initial, err := units.ParseBaseUnits(c.TokenPriceInitial)
	if err != nil {
		return dex.Params{}, fmt.Errorf("token_price_initial: %w", err)
	}
	incremental, err := units.ParseBaseUnits(c.TokenPriceIncremental)
	if err != nil {
		return dex.Params{}, fmt.Errorf("token_price_incremental: %w", err)
	}
	staking, err := units.Parse(c.StakingRequirement)
	if err != nil {
		return dex.Params{}, fmt.Errorf("staking_requirement: %w", err)
	}

	return dex.Params{
		Name:                  c.Name,
		Symbol:                c.Symbol,
		DividendFee:           fee,
		TokenPriceInitial:     initial,
		TokenPriceIncremental: incremental,
		StakingRequirement:    staking,
		Administrators:        append([]string(nil), c.Administrators...),
		Ambassadors:           append([]string(nil), c.Ambassadors...),
		RestrictedPhase:       c.RestrictedPhase,
	}, nil
}

// clone copies the parts of c that are shared by reference.
func (c *Config) clone() *Config {
	out := *c
	out.Market.Administrators = append([]string(nil), c.Market.Administrators...)
	out.Market.Ambassadors = append([]string(nil), c.Market.Ambassadors...)
	out.API.AllowedOrigins = append([]string(nil), c.API.AllowedOrigins...)
	if c.Logging.ModuleLevels != nil {
		out.Logging.ModuleLevels = make(map[string]string, len(c.Logging.ModuleLevels))
		for k, v := range c.Logging.ModuleLevels {
			out.Logging.ModuleLevels[k] = v
		}
	}
	if c.Logging.Sampling != nil {
		s := *c.Logging.Sampling
		out.Logging.Sampling = &s
	}
	return &out
}

func positive(n *big.Int) bool { return n != nil && n.Sign() > 0 }
