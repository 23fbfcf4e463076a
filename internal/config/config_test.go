package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/netprep/internal/errs"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "netprep.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "MAX", cfg.Run.Concurrency)
	assert.Equal(t, "highway", cfg.Emme.HighwayBank)
	assert.Equal(t, "transit", cfg.Emme.TransitBank)
	assert.Equal(t, 1, cfg.Emme.AllDayScenarioID)
	assert.InDelta(t, 0.5, cfg.Highway.AreaTypeBufferDistMiles, 1e-9)
	assert.True(t, cfg.Transit.Enabled)
	assert.InDelta(t, 0.01, cfg.Transit.ConnectorLengthMiles, 1e-9)
	assert.Equal(t, map[string]float64{"CRAIL": 45, "HRAIL": 40, "LRAIL": 30, "FERRY": 15}, cfg.Transit.Speeds())
	assert.Equal(t, []TimePeriodConfig{
		{Name: "EA", EmmeScenarioID: 11},
		{Name: "AM", EmmeScenarioID: 12},
		{Name: "MD", EmmeScenarioID: 13},
		{Name: "PM", EmmeScenarioID: 14},
		{Name: "EV", EmmeScenarioID: 15},
	}, cfg.TimePeriods)
	assert.Equal(t, 30, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)

	assert.NoError(t, cfg.Validate("prepare"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/netprep
log:
  level: debug
  format: console
highway:
  area_type_buffer_dist_miles: 0.25
  capclass_lookup:
    - capclass: 1
      free_flow_speed: 65
    - capclass: 7
time_periods:
  - name: AM
    emme_scenario_id: 2
  - name: PM
    emme_scenario_id: 3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.InDelta(t, 0.25, cfg.Highway.AreaTypeBufferDistMiles, 1e-9)

	require.Len(t, cfg.Highway.CapclassLookup, 2)
	require.NotNil(t, cfg.Highway.CapclassLookup[0].FreeFlowSpeed)
	assert.InDelta(t, 65.0, *cfg.Highway.CapclassLookup[0].FreeFlowSpeed, 1e-9)
	assert.Nil(t, cfg.Highway.CapclassLookup[1].FreeFlowSpeed)

	assert.Equal(t, []TimePeriodConfig{{Name: "AM", EmmeScenarioID: 2}, {Name: "PM", EmmeScenarioID: 3}}, cfg.TimePeriods)
	// Defaults still apply for unset values
	assert.Equal(t, "highway", cfg.Emme.HighwayBank)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("NETPREP_STORE_DRIVER", "postgres")
	t.Setenv("NETPREP_LOG_LEVEL", "warn")
	t.Setenv("NETPREP_RUN_CONCURRENCY", "MAX-2")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "MAX-2", cfg.Run.Concurrency)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

func speed(v float64) *float64 { return &v }

// validDefaults returns a Config that passes prepare validation.
func validDefaults() *Config {
	return &Config{
		Store:    StoreConfig{Driver: "sqlite", DatabaseURL: "netprep.db"},
		Run:      RunConfig{Concurrency: "4"},
		Emme:     EmmeConfig{HighwayBank: "highway", TransitBank: "transit", AllDayScenarioID: 1},
		Scenario: ScenarioConfig{MAZLandUseFile: "maz_data.csv"},
		Highway: HighwayConfig{
			AreaTypeBufferDistMiles: 0.5,
			CapclassLookup: []CapclassSpeed{
				{Capclass: 1, FreeFlowSpeed: speed(55)},
				{Capclass: 2},
			},
		},
		Transit: TransitConfig{
			Enabled:             true,
			FixedGuidewaySpeeds: map[string]float64{"HRAIL": 40},
			Modes: []TransitMode{
				{ID: "w", Type: "WALK"},
				{ID: "b", Type: "TRANSIT"},
			},
			Vehicles: []TransitVehicle{{ID: "bus", Mode: "b"}},
		},
		TimePeriods: []TimePeriodConfig{
			{Name: "AM", EmmeScenarioID: 2},
			{Name: "PM", EmmeScenarioID: 3},
		},
	}
}

func TestValidatePrepare_Valid(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("prepare"))
}

func TestValidatePrepare_Problems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no landuse", func(c *Config) { c.Scenario.MAZLandUseFile = "" }, "scenario.maz_landuse_file is required"},
		{"zero buffer", func(c *Config) { c.Highway.AreaTypeBufferDistMiles = 0 }, "area_type_buffer_dist_miles must be > 0"},
		{"bad driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver must be sqlite or postgres"},
		{"no database", func(c *Config) { c.Store.DatabaseURL = "" }, "store.database_url is required"},
		{"bad concurrency", func(c *Config) { c.Run.Concurrency = "lots" }, "run.concurrency"},
		{"no periods", func(c *Config) { c.TimePeriods = nil }, "time_periods must not be empty"},
		{"empty period name", func(c *Config) { c.TimePeriods[0].Name = "" }, "time_periods[0].name is required"},
		{"repeated period", func(c *Config) { c.TimePeriods[1].Name = "AM" }, "name AM is repeated"},
		{"suffix period", func(c *Config) { c.TimePeriods[1].Name = "XAM" }, "AM is a suffix of XAM"},
		{"slot reuses all day", func(c *Config) { c.TimePeriods[0].EmmeScenarioID = 1 }, "already used by all_day_scenario_id"},
		{"slot repeated", func(c *Config) { c.TimePeriods[1].EmmeScenarioID = 2 }, "already used by AM"},
		{"duplicate capclass", func(c *Config) {
			c.Highway.CapclassLookup = append(c.Highway.CapclassLookup, CapclassSpeed{Capclass: 1})
		}, "capclass 1 twice"},
		{"negative speed", func(c *Config) { c.Highway.CapclassLookup[0].FreeFlowSpeed = speed(-5) }, "negative speed"},
		{"zero guideway speed", func(c *Config) { c.Transit.FixedGuidewaySpeeds["FERRY"] = 0 }, "fixed_guideway_speeds.FERRY"},
		{"unknown mode type", func(c *Config) { c.Transit.Modes[0].Type = "BIKE" }, "unknown type"},
		{"vehicle unknown mode", func(c *Config) { c.Transit.Vehicles[0].Mode = "r" }, "unknown mode"},
		{"no transit bank", func(c *Config) { c.Emme.TransitBank = "" }, "emme.transit_bank is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate("prepare")
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.KindConfiguration))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_TransitDisabledSkipsBank(t *testing.T) {
	cfg := validDefaults()
	cfg.Transit.Enabled = false
	cfg.Emme.TransitBank = ""
	assert.NoError(t, cfg.Validate("prepare"))
}

func TestValidate_ReadModeOnlyChecksStore(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: "postgres", DatabaseURL: "postgres://localhost/x"}}
	assert.NoError(t, cfg.Validate("read"))
	assert.NoError(t, cfg.Validate("import"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestGuidewayKey(t *testing.T) {
	assert.Equal(t, "HRAIL", GuidewayKey("hrail"))
	assert.Equal(t, GuidewayKey("LRail"), GuidewayKey("lrail"))

	speeds := TransitConfig{FixedGuidewaySpeeds: map[string]float64{"ferry": 15}}.Speeds()
	assert.InDelta(t, 15.0, speeds[GuidewayKey("Ferry")], 1e-12)
}

func TestParseConcurrency(t *testing.T) {
	cpus := runtime.NumCPU()
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "MAX", want: cpus},
		{in: "max", want: cpus},
		{in: "", want: cpus},
		{in: "MAX-1", want: max(cpus-1, 1)},
		{in: "MAX-1000", want: 1},
		{in: "3", want: 3},
		{in: " 2 ", want: 2},
		{in: "0", wantErr: true},
		{in: "-4", wantErr: true},
		{in: "MAX-x", wantErr: true},
		{in: "many", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseConcurrency(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
