package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/OpenLaserCore/internal/engraver"
	"github.com/KevinKickass/OpenLaserCore/internal/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DeviceTypeMock, cfg.Device.Type)
	assert.Equal(t, 115200, cfg.Device.BaudRate)
	assert.Equal(t, 15*time.Second, cfg.Device.ConnectionTimeout)
	assert.Equal(t, 1600, cfg.Device.WidthDots)
	assert.Equal(t, 1250*time.Microsecond, cfg.Device.Mock.TimePerPoint)
	assert.Equal(t, uint8(0x7f), cfg.Burn.Power)
	assert.False(t, cfg.Database.Enabled())

	mode, err := cfg.Burn.Plotting()
	require.NoError(t, err)
	assert.Equal(t, planner.ModeRasterOptimized, mode)
	assert.False(t, cfg.Burn.Variable())

	assert.Equal(t, engraver.Settings{
		StandbyBrightness:        70,
		LineDelay:                100,
		MaxPowerMw:               1000,
		StepSubdivision:          4,
		XCommutationCompensation: 1,
		YCommutationCompensation: 1,
		StepCount:                200,
		SpeedUpperLimit:          870,
		SpeedLowerLimit:          600,
		PositioningSpeed:         5,
	}, cfg.Device.Settings())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, "config.yaml", `
device:
  type: serial
  port_name: /dev/ttyUSB0
  max_power_mw: 1600
burn:
  plotting_mode: raster
  intensity_mode: variable
database:
  host: db
`)
	t.Setenv("OLC_DEVICE_BAUD_RATE", "57600")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DeviceTypeSerial, cfg.Device.Type)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Device.PortName)
	assert.Equal(t, 57600, cfg.Device.BaudRate)
	assert.Equal(t, uint16(1600), cfg.Device.MaxPowerMw)
	assert.True(t, cfg.Burn.Variable())
	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, "postgres://:@db:5432/?sslmode=disable", cfg.Database.DSN())
}

func TestLoad_Invalid(t *testing.T) {
	for name, content := range map[string]string{
		"device type":   "device:\n  type: laserdisc\n",
		"plotting mode": "burn:\n  plotting_mode: spiral\n",
		"intensity":     "burn:\n  intensity_mode: loud\n",
		"size":          "device:\n  width_dots: 0\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.yaml", content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_RepositoryConfig(t *testing.T) {
	cfg, err := Load("../../configs/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "configs/presets.yaml", cfg.Presets.Path)

	presets, err := LoadPresets("../../configs/presets.yaml")
	require.NoError(t, err)
	assert.NotEmpty(t, presets.List())
}

func TestAuthConfig_Secret(t *testing.T) {
	a := AuthConfig{JWTSecretEnv: "OLC_TEST_SECRET"}
	assert.False(t, a.IsProductionReady())

	t.Setenv("OLC_TEST_SECRET", "0123456789abcdef0123456789abcdef")
	assert.True(t, a.IsProductionReady())
}
