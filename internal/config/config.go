// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// ErrNoBridges is returned when no usable bridge entry is left after validation
var ErrNoBridges = errors.New("no valid bridge configured")

// Protocol tags accepted in server entries
const (
	ProtocolRaw    = "RAW"
	ProtocolTelnet = "TELNET"
	ProtocolLocal  = "LOCAL"
)

// protocolAliases maps legacy tags to canonical ones
var protocolAliases = map[string]string{
	"TCP":  ProtocolRaw,
	"UNIX": ProtocolLocal,
}

// byteSizes maps symbolic byte sizes to data bits
var byteSizes = map[string]int{
	"FIVEBITS":  5,
	"SIXBITS":   6,
	"SEVENBITS": 7,
	"EIGHTBITS": 8,
	"5":         5,
	"6":         6,
	"7":         7,
	"8":         8,
}

// Config represents the application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	API        APIConfig        `mapstructure:"api"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Bridges    []BridgeConfig   `mapstructure:"bridges"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Environment string `mapstructure:"environment" validate:"oneof=development staging production test"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error fatal"`
	Format     string `mapstructure:"format" validate:"oneof=json console"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// APIConfig represents the status HTTP API configuration
type APIConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DispatcherConfig represents the control loop configuration
type DispatcherConfig struct {
	PollTimeout time.Duration `mapstructure:"poll_timeout" validate:"gt=0"`
}

// BridgeConfig is one serial device shared by a set of listening servers
type BridgeConfig struct {
	Serial  SerialConfig   `mapstructure:"serial"`
	Servers []ServerConfig `mapstructure:"servers" validate:"required,min=1,dive"`
}

// SerialConfig represents serial device configuration
type SerialConfig struct {
	Port             string        `mapstructure:"port" json:"port" validate:"required"`
	BaudRate         int           `mapstructure:"baudrate" json:"baudrate" validate:"gt=0"`
	Parity           string        `mapstructure:"parity" json:"parity" validate:"oneof=NONE EVEN ODD MARK SPACE"`
	StopBits         string        `mapstructure:"stopbits" json:"stopbits" validate:"oneof=ONE ONE_POINT_FIVE TWO"`
	ByteSize         string        `mapstructure:"bytesize" json:"bytesize" validate:"oneof=FIVEBITS SIXBITS SEVENBITS EIGHTBITS 5 6 7 8"`
	Timeout          time.Duration `mapstructure:"timeout" json:"timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	InterByteTimeout time.Duration `mapstructure:"inter_byte_timeout" json:"inter_byte_timeout"`
	XonXoff          bool          `mapstructure:"xonxoff" json:"xonxoff"`
	RtsCts           bool          `mapstructure:"rtscts" json:"rtscts"`
	DsrDtr           bool          `mapstructure:"dsrdtr" json:"dsrdtr"`
}

// ServerConfig represents one listening endpoint
type ServerConfig struct {
	Address      string        `mapstructure:"address" validate:"required"`
	Port         int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	Protocol     string        `mapstructure:"protocol" validate:"oneof=RAW TELNET LOCAL"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
}

// Load loads configuration from the given file and environment variables
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable support
	v.SetEnvPrefix("SER2TCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&config, decodeHook); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// List entries are not covered by viper defaults
	for i := range config.Bridges {
		applyBridgeDefaults(&config.Bridges[i])
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// secondsToDurationHook decodes bare numbers into durations as seconds, the
// unit of the original ser2tcp config files. Strings with a unit such as
// "500ms" are left to StringToTimeDurationHookFunc.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))

	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != durationType || f == durationType {
			return data, nil
		}

		var seconds float64
		switch f.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			seconds = float64(reflect.ValueOf(data).Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			seconds = float64(reflect.ValueOf(data).Uint())
		case reflect.Float32, reflect.Float64:
			seconds = reflect.ValueOf(data).Float()
		case reflect.String:
			// Numeric strings come from environment overrides
			parsed, err := strconv.ParseFloat(strings.TrimSpace(data.(string)), 64)
			if err != nil {
				return data, nil
			}
			seconds = parsed
		default:
			return data, nil
		}

		return time.Duration(math.Round(seconds * float64(time.Second))), nil
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "ser2tcp")
	v.SetDefault("app.version", "3.1.0")
	v.SetDefault("app.environment", "production")

	// Logging defaults
	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// API defaults
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8084)
	v.SetDefault("api.read_timeout", "30s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.idle_timeout", "120s")

	// Dispatcher defaults
	v.SetDefault("dispatcher.poll_timeout", "100ms")
}

// applyBridgeDefaults fills unset fields of a bridge entry
func applyBridgeDefaults(b *BridgeConfig) {
	s := &b.Serial
	if s.BaudRate == 0 {
		s.BaudRate = 115200
	}
	if s.Parity == "" {
		s.Parity = "NONE"
	}
	if s.StopBits == "" {
		s.StopBits = "ONE"
	}
	if s.ByteSize == "" {
		s.ByteSize = "EIGHTBITS"
	}
	s.Parity = strings.ToUpper(s.Parity)
	s.StopBits = strings.ToUpper(s.StopBits)
	s.ByteSize = strings.ToUpper(s.ByteSize)

	for i := range b.Servers {
		srv := &b.Servers[i]
		srv.Protocol = NormalizeProtocol(srv.Protocol)
		if srv.Address == "" && srv.Protocol != ProtocolLocal {
			srv.Address = "0.0.0.0"
		}
		if srv.WriteTimeout == 0 {
			srv.WriteTimeout = 5 * time.Second
		}
	}
}

// validate validates the global sections; bridge entries are checked by SplitBridges
func validate(config *Config) error {
	v := validator.New()
	if err := v.Struct(config.App); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := v.Struct(config.Logging); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := v.Struct(config.API); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := v.Struct(config.Dispatcher); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	if len(config.Bridges) == 0 {
		return ErrNoBridges
	}
	return nil
}

// SplitBridges returns the valid bridge entries and the combined errors of the rejected ones
func (c *Config) SplitBridges() ([]BridgeConfig, error) {
	v := validator.New()

	var (
		valid []BridgeConfig
		errs  error
	)
	for i, b := range c.Bridges {
		if err := ValidateBridge(v, &b); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("bridge %d (%s): %w", i, b.Serial.Port, err))
			continue
		}
		valid = append(valid, b)
	}
	return valid, errs
}

// ValidateBridge checks a single bridge entry
func ValidateBridge(v *validator.Validate, b *BridgeConfig) error {
	if err := v.Struct(b); err != nil {
		return err
	}
	for _, srv := range b.Servers {
		switch srv.Protocol {
		case ProtocolLocal:
			if srv.Address == "" {
				return fmt.Errorf("server: LOCAL protocol requires a socket path in address")
			}
		default:
			if srv.Port == 0 {
				return fmt.Errorf("server %s: %s protocol requires a port", srv.Address, srv.Protocol)
			}
		}
	}
	return nil
}

// NormalizeProtocol upper-cases a protocol tag and resolves legacy aliases
func NormalizeProtocol(p string) string {
	p = strings.ToUpper(strings.TrimSpace(p))
	if canonical, ok := protocolAliases[p]; ok {
		return canonical
	}
	return p
}

// DataBits returns the configured byte size as a bit count
func (s *SerialConfig) DataBits() int {
	if bits, ok := byteSizes[strings.ToUpper(s.ByteSize)]; ok {
		return bits
	}
	return 8
}

// Network returns the net package network name of the endpoint
func (s *ServerConfig) Network() string {
	if s.Protocol == ProtocolLocal {
		return "unix"
	}
	return "tcp"
}

// ListenAddress returns the address passed to net.Listen
func (s *ServerConfig) ListenAddress() string {
	if s.Protocol == ProtocolLocal {
		return s.Address
	}
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// GetAPIAddr returns the status API address
func (c *Config) GetAPIAddr() string {
	return net.JoinHostPort(c.API.Host, strconv.Itoa(c.API.Port))
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
