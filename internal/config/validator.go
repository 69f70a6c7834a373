package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/shizukutanaka/curvedex/internal/units"
)

// Validator checks a configuration in two passes: struct tags through
// go-playground/validator, then the cross-field rules per section.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	// Registration only fails for empty tags or nil functions.
	_ = v.RegisterValidation("base_units", func(fl validator.FieldLevel) bool {
		_, err := units.ParseBaseUnits(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		_, err := units.Parse(fl.Field().String())
		return err == nil
	})
	return &Validator{validate: v}
}

// Validate performs a full validation of the provided Config struct.
func (v *Validator) Validate(cfg *Config) error {
	if err := v.validate.Struct(cfg); err != nil {
		return describe(err)
	}
	if err := v.validateMarket(&cfg.Market); err != nil {
		return fmt.Errorf("market config: %w", err)
	}
	if err := v.validateStorage(&cfg.Storage); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	if err := v.validateAPI(cfg); err != nil {
		return fmt.Errorf("api config: %w", err)
	}
	if cfg.Monitoring.Enabled {
		if err := validateListenAddress(cfg.Monitoring.ListenAddr); err != nil {
			return fmt.Errorf("monitoring config: listen_addr: %w", err)
		}
	}
	return nil
}

func (v *Validator) validateMarket(cfg *MarketConfig) error {
	params, err := cfg.Params()
	if err != nil {
		return err
	}
	if !positive(params.DividendFee) {
		return errors.New("dividend_fee must be positive")
	}
	if !positive(params.TokenPriceIncremental) {
		return errors.New("token_price_incremental must be positive")
	}
	if params.TokenPriceInitial.Cmp(params.TokenPriceIncremental) < 0 {
		return errors.New("token_price_initial must not be below token_price_incremental")
	}
	if cfg.RestrictedPhase && len(cfg.Ambassadors) == 0 {
		return errors.New("restricted_phase needs at least one ambassador")
	}
	return nil
}

func (v *Validator) validateStorage(cfg *StorageConfig) error {
	switch cfg.Driver {
	case "sqlite", "postgres":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for driver %s", cfg.Driver)
		}
		if cfg.Database.MaxOpenConns < 0 || cfg.Database.MaxIdleConns < 0 {
			return errors.New("database connection limits cannot be negative")
		}
	}
	if cfg.Cache.Enabled {
		s := cfg.Cache.Shards
		if s <= 0 || s&(s-1) != 0 {
			return fmt.Errorf("cache shards must be a positive power of two, got %d", s)
		}
		if cfg.Cache.TTL <= 0 {
			return errors.New("cache ttl must be positive")
		}
	}
	return nil
}

func (v *Validator) validateAPI(cfg *Config) error {
	if !cfg.API.Enabled {
		return nil
	}
	if err := validateListenAddress(cfg.API.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr: %w", err)
	}
	if len(cfg.API.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 characters long")
	}
	if cfg.Monitoring.Enabled && cfg.Monitoring.ListenAddr == cfg.API.ListenAddr {
		return errors.New("listen_addr collides with monitoring listen_addr")
	}
	return nil
}

// validateListenAddress checks if a string is a valid network listen address.
func validateListenAddress(addr string) error {
	if addr == "" {
		return errors.New("address cannot be empty")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address format: %s", addr)
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return fmt.Errorf("invalid port: %s", addr)
	}
	return nil
}

// describe flattens validator errors into one readable error.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		path := fe.Namespace()
		if i := strings.Index(path, "."); i >= 0 {
			path = path[i+1:]
		}
		msg := fmt.Sprintf("%s fails %s", path, fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return errors.New(strings.Join(msgs, "; "))
}
