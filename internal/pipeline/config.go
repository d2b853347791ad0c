package pipeline

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"energy-recon/internal/normalize"
	"energy-recon/internal/reading"
	"energy-recon/internal/timezone"
	"energy-recon/internal/validate"
)

// TimezoneConfig declares a source's timezone policy.
type TimezoneConfig struct {
	Zone          string `yaml:"zone"`
	OffsetMinutes *int   `yaml:"offset_minutes"`
	Explicit      bool   `yaml:"explicit"`
}

// Policy converts the config into an alignment policy.
func (t TimezoneConfig) Policy() timezone.Policy {
	p := timezone.Policy{Zone: t.Zone, Explicit: t.Explicit}
	if t.OffsetMinutes != nil {
		p.OffsetMinutes = *t.OffsetMinutes
		p.HasOffset = true
	}
	return p
}

// RuleConfig declares a source's plausibility rules.
type RuleConfig struct {
	Min                float64 `yaml:"min"`
	Max                float64 `yaml:"max"`
	MinIntervalSeconds int     `yaml:"min_interval_seconds"`
	Monotonic          bool    `yaml:"monotonic"`
}

// Rule converts the config into a validation rule.
func (r RuleConfig) Rule() validate.Rule {
	return validate.Rule{
		Min:         r.Min,
		Max:         r.Max,
		MinInterval: time.Duration(r.MinIntervalSeconds) * time.Second,
		Monotonic:   r.Monotonic,
	}
}

// SourceRole distinguishes how a source feeds reconciliation.
type SourceRole string

const (
	// RoleFuelLevel feeds the sensor-delta estimate.
	RoleFuelLevel SourceRole = "fuel_level"
	// RoleReportedConsumption feeds the externally reported estimate.
	RoleReportedConsumption SourceRole = "reported_consumption"
	// RoleMeter feeds the aggregator directly (power, energy).
	RoleMeter SourceRole = "meter"
)

// SourceConfig declares one ingestible source.
type SourceConfig struct {
	ID                 string         `yaml:"id"`
	Metric             string         `yaml:"metric"`
	Role               string         `yaml:"role"`
	Location           string         `yaml:"location"`
	Format             string         `yaml:"format"`
	Path               string         `yaml:"path"`
	TimestampColumn    string         `yaml:"timestamp_column"`
	ValueColumn        string         `yaml:"value_column"`
	EntityColumn       string         `yaml:"entity_column"`
	EntityID           string         `yaml:"entity_id"`
	Unit               string         `yaml:"unit"`
	Cumulative         bool           `yaml:"cumulative"`
	TankCapacityLiters float64        `yaml:"tank_capacity_liters"`
	Indispensable      bool           `yaml:"indispensable"`
	Timezone           TimezoneConfig `yaml:"timezone"`
	Rule               RuleConfig     `yaml:"rule"`
}

// Descriptor converts the config into a normalizer descriptor.
func (s SourceConfig) Descriptor() normalize.Descriptor {
	return normalize.Descriptor{
		SourceID:           s.ID,
		Metric:             reading.Metric(s.Metric),
		Format:             normalize.Format(s.Format),
		TimestampColumn:    s.TimestampColumn,
		ValueColumn:        s.ValueColumn,
		EntityColumn:       s.EntityColumn,
		EntityID:           s.EntityID,
		Unit:               s.Unit,
		Cumulative:         s.Cumulative,
		TankCapacityLiters: s.TankCapacityLiters,
		Timezone:           s.Timezone.Policy(),
	}
}

// SourceRole returns the source's declared role, defaulting by metric.
func (s SourceConfig) SourceRole() SourceRole {
	switch SourceRole(s.Role) {
	case RoleFuelLevel, RoleReportedConsumption, RoleMeter:
		return SourceRole(s.Role)
	}
	if reading.Metric(s.Metric) == reading.MetricFuelLevel {
		return RoleFuelLevel
	}
	return RoleMeter
}

// LedgerConfig declares the fuel purchase ledger payload.
type LedgerConfig struct {
	Path            string         `yaml:"path"`
	Format          string         `yaml:"format"`
	TimestampColumn string         `yaml:"timestamp_column"`
	LitersColumn    string         `yaml:"liters_column"`
	PriceColumn     string         `yaml:"price_column"`
	LocationColumn  string         `yaml:"location_column"`
	Timezone        TimezoneConfig `yaml:"timezone"`
}

// Descriptor converts the config into a ledger descriptor.
func (l LedgerConfig) Descriptor() normalize.LedgerDescriptor {
	return normalize.LedgerDescriptor{
		Format:          normalize.Format(l.Format),
		TimestampColumn: l.TimestampColumn,
		LitersColumn:    l.LitersColumn,
		PriceColumn:     l.PriceColumn,
		LocationColumn:  l.LocationColumn,
	}
}

// AnomalyConfig tunes the outlier detector.
type AnomalyConfig struct {
	Window     int     `yaml:"window"`
	Threshold  float64 `yaml:"threshold"`
	MinSamples int     `yaml:"min_samples"`
}

// BillingConfig declares how invoices are derived.
type BillingConfig struct {
	// Locations maps a billing location to the meter source ids whose
	// monthly consumption makes up its billable units.
	Locations        map[string][]string `yaml:"locations"`
	EnergyRateZAR    string              `yaml:"energy_rate_zar"`
	ServiceChargeZAR string              `yaml:"service_charge_zar"`
	VATPercent       string              `yaml:"vat_percent"`
}

// OverrideConfig is an operator-supplied unit figure.
type OverrideConfig struct {
	Location string  `yaml:"location"`
	Period   string  `yaml:"period"` // "2006-01"
	Units    float64 `yaml:"units"`
}

// Config is the full pipeline configuration. Version participates in the
// caller's cache key, so any tuning change invalidates cached results.
type Config struct {
	Version             string           `yaml:"version"`
	CanonicalZone       string           `yaml:"canonical_zone"`
	FetchTimeoutSeconds int              `yaml:"fetch_timeout_seconds"`
	TolerancePct        float64          `yaml:"tolerance_pct"`
	RefillSpanHours     int              `yaml:"refill_span_hours"`
	FallbackPriceZAR    string           `yaml:"fallback_price_zar"`
	Anomaly             AnomalyConfig    `yaml:"anomaly"`
	Sources             []SourceConfig   `yaml:"sources"`
	Ledger              LedgerConfig     `yaml:"ledger"`
	Billing             BillingConfig    `yaml:"billing"`
	Overrides           []OverrideConfig `yaml:"overrides"`
	OutputDir           string           `yaml:"output_dir"`
	DatabaseURL         string           `yaml:"database_url"`
	ListenAddr          string           `yaml:"listen_addr"`
}

// LoadConfig loads config from the file named by RECON_CONFIG, with env
// fallbacks and built-in defaults.
func LoadConfig() (Config, error) {
	cfg := Config{
		Version:             "1",
		CanonicalZone:       timezone.DefaultZone,
		FetchTimeoutSeconds: 30,
		TolerancePct:        getenvFloatDefault("RECON_TOLERANCE_PCT", 10),
		FallbackPriceZAR:    getenvDefault("RECON_FALLBACK_PRICE", "22.50"),
		Anomaly:             AnomalyConfig{Window: 14, Threshold: 2.5, MinSamples: 5},
		OutputDir:           getenvDefault("RECON_OUTPUT_DIR", "var/reports"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		ListenAddr:          getenvDefault("RECON_LISTEN_ADDR", ":8080"),
	}

	if path := os.Getenv("RECON_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration.
func (c Config) Validate() error {
	if c.TolerancePct <= 0 || c.TolerancePct >= 100 {
		return errors.New("pipeline: tolerance_pct out of range")
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.ID == "" {
			return errors.New("pipeline: source without id")
		}
		if seen[s.ID] {
			return fmt.Errorf("pipeline: duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
		if err := s.Descriptor().Validate(); err != nil {
			return fmt.Errorf("pipeline: source %q: %w", s.ID, err)
		}
	}
	return nil
}

// Tolerance returns the disagreement tolerance as a ratio.
func (c Config) Tolerance() float64 { return c.TolerancePct / 100 }

// FetchTimeout returns the per-source fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// SourcePaths returns sourceID -> payload path, ledger included under
// LedgerSourceID when configured.
func (c Config) SourcePaths() map[string]string {
	paths := make(map[string]string, len(c.Sources)+1)
	for _, s := range c.Sources {
		paths[s.ID] = s.Path
	}
	if c.Ledger.Path != "" {
		paths[LedgerSourceID] = c.Ledger.Path
	}
	return paths
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
