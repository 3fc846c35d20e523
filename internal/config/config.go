package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/KevinKickass/OpenLaserCore/internal/engraver"
	"github.com/KevinKickass/OpenLaserCore/internal/planner"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Device   DeviceConfig   `mapstructure:"device"`
	Burn     BurnConfig     `mapstructure:"burn"`
	Presets  PresetsConfig  `mapstructure:"presets"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

// Job history is only recorded when Host is set.
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type AuthConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	JWTSecretEnv string `mapstructure:"jwt_secret_env"`
	Issuer       string `mapstructure:"issuer"`
}

const (
	DeviceTypeMock   = "mock"
	DeviceTypeSerial = "serial"
)

type DeviceConfig struct {
	Type              string        `mapstructure:"type"`
	PortName          string        `mapstructure:"port_name"`
	BaudRate          int           `mapstructure:"baud_rate"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	WidthDots         int           `mapstructure:"width_dots"`
	HeightDots        int           `mapstructure:"height_dots"`
	DPI               int           `mapstructure:"dpi"`
	// ChunkMoves splits absolute moves into steps of at most 50 dots per axis.
	ChunkMoves bool `mapstructure:"chunk_moves"`

	StandbyBrightness        uint8  `mapstructure:"standby_brightness"`
	LineDelay                uint16 `mapstructure:"line_delay_ms"`
	MaxPowerMw               uint16 `mapstructure:"max_power_mw"`
	StepSubdivision          uint8  `mapstructure:"step_subdivision"`
	XCommutationCompensation uint8  `mapstructure:"x_commutation_compensation"`
	YCommutationCompensation uint8  `mapstructure:"y_commutation_compensation"`
	StepCount                uint16 `mapstructure:"step_count"`
	SpeedUpperLimit          uint16 `mapstructure:"speed_upper_limit"`
	SpeedLowerLimit          uint16 `mapstructure:"speed_lower_limit"`
	PositioningSpeed         uint16 `mapstructure:"positioning_speed"`

	Mock MockConfig `mapstructure:"mock"`
}

type MockConfig struct {
	TimePerPoint time.Duration `mapstructure:"time_per_point"`
	ConnectDelay time.Duration `mapstructure:"connect_delay"`
	HomingDelay  time.Duration `mapstructure:"homing_delay"`
}

const (
	IntensityFixed    = "fixed"
	IntensityVariable = "variable"
)

type BurnConfig struct {
	Power                   uint8         `mapstructure:"power" yaml:"power" json:"power"`
	Duration                uint8         `mapstructure:"duration" yaml:"duration" json:"duration"`
	FixedIntensityThreshold uint8         `mapstructure:"fixed_intensity_threshold" yaml:"fixed_intensity_threshold" json:"fixed_intensity_threshold"`
	PlottingMode            string        `mapstructure:"plotting_mode" yaml:"plotting_mode" json:"plotting_mode"`
	IntensityMode           string        `mapstructure:"intensity_mode" yaml:"intensity_mode" json:"intensity_mode"`
	StepDelay               time.Duration `mapstructure:"step_delay" yaml:"step_delay" json:"step_delay"`
}

type PresetsConfig struct {
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.issuer", "openlasercore")

	v.SetDefault("device.type", DeviceTypeMock)
	v.SetDefault("device.baud_rate", 115200)
	v.SetDefault("device.connection_timeout", "15s")
	v.SetDefault("device.width_dots", 1600)
	v.SetDefault("device.height_dots", 1600)
	v.SetDefault("device.dpi", 508)
	v.SetDefault("device.chunk_moves", false)
	v.SetDefault("device.standby_brightness", 70)
	v.SetDefault("device.line_delay_ms", 100)
	v.SetDefault("device.max_power_mw", 1000)
	v.SetDefault("device.step_subdivision", 4)
	v.SetDefault("device.x_commutation_compensation", 1)
	v.SetDefault("device.y_commutation_compensation", 1)
	v.SetDefault("device.step_count", 200)
	v.SetDefault("device.speed_upper_limit", 870)
	v.SetDefault("device.speed_lower_limit", 600)
	v.SetDefault("device.positioning_speed", 5)
	v.SetDefault("device.mock.time_per_point", "1250us")
	v.SetDefault("device.mock.connect_delay", "1s")
	v.SetDefault("device.mock.homing_delay", "2s")

	v.SetDefault("burn.power", 0x7f)
	v.SetDefault("burn.duration", 0x7f)
	v.SetDefault("burn.fixed_intensity_threshold", 0x7f)
	v.SetDefault("burn.plotting_mode", "raster_optimized")
	v.SetDefault("burn.intensity_mode", IntensityFixed)
	v.SetDefault("burn.step_delay", "0s")
}

// Load reads the YAML file at path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment Variables mit Prefix OLC_, e.g. OLC_DEVICE_PORT_NAME
	v.SetEnvPrefix("OLC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Device.Type {
	case DeviceTypeMock, DeviceTypeSerial:
	default:
		return fmt.Errorf("invalid device.type: %q", c.Device.Type)
	}
	if c.Device.WidthDots <= 0 || c.Device.HeightDots <= 0 {
		return fmt.Errorf("invalid device size: %dx%d", c.Device.WidthDots, c.Device.HeightDots)
	}
	if err := c.Burn.Validate(); err != nil {
		return fmt.Errorf("invalid burn config: %w", err)
	}
	return nil
}

// Settings maps the tuning values onto the SettingsUpdate payload.
func (d DeviceConfig) Settings() engraver.Settings {
	return engraver.Settings{
		StandbyBrightness:        d.StandbyBrightness,
		LineDelay:                d.LineDelay,
		MaxPowerMw:               d.MaxPowerMw,
		StepSubdivision:          d.StepSubdivision,
		XCommutationCompensation: d.XCommutationCompensation,
		YCommutationCompensation: d.YCommutationCompensation,
		StepCount:                d.StepCount,
		SpeedUpperLimit:          d.SpeedUpperLimit,
		SpeedLowerLimit:          d.SpeedLowerLimit,
		PositioningSpeed:         d.PositioningSpeed,
	}
}

func (b BurnConfig) Validate() error {
	if _, err := b.Plotting(); err != nil {
		return err
	}
	switch b.IntensityMode {
	case IntensityFixed, IntensityVariable, "":
	default:
		return fmt.Errorf("unknown intensity mode: %q", b.IntensityMode)
	}
	return nil
}

func (b BurnConfig) Plotting() (planner.Mode, error) {
	return planner.ParseMode(b.PlottingMode)
}

// Variable reports whether pixel intensity scales the burn power.
func (b BurnConfig) Variable() bool {
	return b.IntensityMode == IntensityVariable
}

func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

const devSecret = "dev-secret-change-in-production-min-32-chars"

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
