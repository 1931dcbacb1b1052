// Package config loads bridge settings from defaults, an optional YAML
// file, and MDBRIDGE_* environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tidemark/mdbridge/errs"
	"github.com/tidemark/mdbridge/internal/schema"
)

const envPrefix = "MDBRIDGE_"

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// as well as integer nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asInt int64
	if err := value.Decode(&asInt); err == nil {
		*d = Duration(asInt)
		return nil
	}
	var asString string
	if err := value.Decode(&asString); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", asString, err)
	}
	*d = Duration(parsed)
	return nil
}

// Settings is the full bridge configuration tree.
type Settings struct {
	Env       string          `yaml:"env"`
	Log       LogSettings     `yaml:"log"`
	Gateway   GatewaySettings `yaml:"gateway"`
	Bridge    BridgeSettings  `yaml:"bridge"`
	Directory DirSettings     `yaml:"directory"`
	Bus       BusSettings     `yaml:"bus"`
}

// LogSettings controls structured logging.
type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatewaySettings controls the venue websocket session.
type GatewaySettings struct {
	URL            string  `yaml:"url"`
	ClientID       string  `yaml:"client_id"`
	CallsPerSecond float64 `yaml:"calls_per_second"`
	CallBurst      int     `yaml:"call_burst"`
}

// BridgeSettings controls the bridge facade.
type BridgeSettings struct {
	ClientID           string   `yaml:"client_id"`
	ConnectTimeout     Duration `yaml:"connect_timeout"`
	ReadyTimeout       Duration `yaml:"ready_timeout"`
	RequestTimeout     Duration `yaml:"request_timeout"`
	MarketDataType     string   `yaml:"market_data_type"`
	UseRTH             bool     `yaml:"use_rth"`
	HandleBarRevisions bool     `yaml:"handle_bar_revisions"`
	IgnoreQuoteSize    bool     `yaml:"ignore_quote_size"`
}

// DirSettings controls the instrument directory. An empty DSN selects the
// in-memory directory.
type DirSettings struct {
	DSN          string `yaml:"dsn"`
	TickCapacity int    `yaml:"tick_capacity"`
}

// BusSettings controls the in-memory data bus.
type BusSettings struct {
	BufferSize int `yaml:"buffer_size"`
}

// Default returns the baseline settings.
func Default() Settings {
	return Settings{
		Env: "development",
		Log: LogSettings{
			Level:  "info",
			Format: "json",
		},
		Gateway: GatewaySettings{
			URL:            "ws://127.0.0.1:4002/ws",
			ClientID:       "1",
			CallsPerSecond: 45,
			CallBurst:      5,
		},
		Bridge: BridgeSettings{
			ClientID:       "mdbridge",
			ConnectTimeout: Duration(10 * time.Second),
			ReadyTimeout:   Duration(10 * time.Second),
			RequestTimeout: Duration(60 * time.Second),
			MarketDataType: string(schema.MarketDataRealtime),
			UseRTH:         false,
		},
		Directory: DirSettings{
			DSN:          "",
			TickCapacity: 10_000,
		},
		Bus: BusSettings{
			BufferSize: 256,
		},
	}
}

// Load builds settings from defaults, the YAML file at path when non-empty,
// and environment overrides.
func Load(path string) (Settings, error) {
	const op = "config.load"
	settings := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, errs.New(op, errs.CodeInvalid,
				errs.WithMessage(fmt.Sprintf("read config file %s", path)),
				errs.WithCause(err))
		}
		if err := yaml.Unmarshal(raw, &settings); err != nil {
			return Settings{}, errs.New(op, errs.CodeInvalid,
				errs.WithMessage(fmt.Sprintf("parse config file %s", path)),
				errs.WithCause(err))
		}
	}
	if err := settings.applyEnv(); err != nil {
		return Settings{}, err
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// Validate checks cross-field consistency.
func (s Settings) Validate() error {
	const op = "config.validate"
	if s.Gateway.URL == "" {
		return errs.New(op, errs.CodeInvalid, errs.WithMessage("gateway url required"))
	}
	if s.Gateway.CallsPerSecond <= 0 {
		return errs.New(op, errs.CodeInvalid, errs.WithMessage("gateway calls_per_second must be positive"))
	}
	if s.Bridge.ClientID == "" {
		return errs.New(op, errs.CodeInvalid, errs.WithMessage("bridge client_id required"))
	}
	switch schema.MarketDataType(s.Bridge.MarketDataType) {
	case schema.MarketDataRealtime, schema.MarketDataFrozen, schema.MarketDataDelayed, schema.MarketDataDelayedFrozen:
	default:
		return errs.New(op, errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unknown market data type %q", s.Bridge.MarketDataType)))
	}
	if s.Directory.TickCapacity <= 0 {
		return errs.New(op, errs.CodeInvalid, errs.WithMessage("directory tick_capacity must be positive"))
	}
	return nil
}

func (s *Settings) applyEnv() error {
	const op = "config.env"
	var err error
	setString(&s.Env, "ENV")
	setString(&s.Log.Level, "LOG_LEVEL")
	setString(&s.Log.Format, "LOG_FORMAT")
	setString(&s.Gateway.URL, "GATEWAY_URL")
	setString(&s.Gateway.ClientID, "GATEWAY_CLIENT_ID")
	setString(&s.Bridge.ClientID, "CLIENT_ID")
	setString(&s.Bridge.MarketDataType, "MARKET_DATA_TYPE")
	setString(&s.Directory.DSN, "DIRECTORY_DSN")

	if err = setInt(&s.Directory.TickCapacity, "TICK_CAPACITY"); err != nil {
		return errs.New(op, errs.CodeInvalid, errs.WithCause(err))
	}
	if err = setInt(&s.Bus.BufferSize, "BUS_BUFFER"); err != nil {
		return errs.New(op, errs.CodeInvalid, errs.WithCause(err))
	}
	if err = setBool(&s.Bridge.UseRTH, "USE_RTH"); err != nil {
		return errs.New(op, errs.CodeInvalid, errs.WithCause(err))
	}
	if err = setDuration(&s.Bridge.ConnectTimeout, "CONNECT_TIMEOUT"); err != nil {
		return errs.New(op, errs.CodeInvalid, errs.WithCause(err))
	}
	if err = setDuration(&s.Bridge.ReadyTimeout, "READY_TIMEOUT"); err != nil {
		return errs.New(op, errs.CodeInvalid, errs.WithCause(err))
	}
	if err = setDuration(&s.Bridge.RequestTimeout, "REQUEST_TIMEOUT"); err != nil {
		return errs.New(op, errs.CodeInvalid, errs.WithCause(err))
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = parsed
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = parsed
	return nil
}

func setDuration(dst *Duration, key string) error {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = Duration(parsed)
	return nil
}
