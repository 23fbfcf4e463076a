package config

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/netprep/internal/errs"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig        `yaml:"store" mapstructure:"store"`
	Log         LogConfig          `yaml:"log" mapstructure:"log"`
	Run         RunConfig          `yaml:"run" mapstructure:"run"`
	Emme        EmmeConfig         `yaml:"emme" mapstructure:"emme"`
	Scenario    ScenarioConfig     `yaml:"scenario" mapstructure:"scenario"`
	Highway     HighwayConfig      `yaml:"highway" mapstructure:"highway"`
	Transit     TransitConfig      `yaml:"transit" mapstructure:"transit"`
	TimePeriods []TimePeriodConfig `yaml:"time_periods" mapstructure:"time_periods"`
	Fetch       FetchConfig        `yaml:"fetch" mapstructure:"fetch"`
	Server      ServerConfig       `yaml:"server" mapstructure:"server"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RunConfig configures worker counts. Concurrency is "MAX", "MAX-N" or a
// positive integer.
type RunConfig struct {
	Concurrency string `yaml:"concurrency" mapstructure:"concurrency"`
}

// EmmeConfig names the scenario banks and the all-day reference slot.
type EmmeConfig struct {
	HighwayBank      string `yaml:"highway_bank" mapstructure:"highway_bank"`
	TransitBank      string `yaml:"transit_bank" mapstructure:"transit_bank"`
	AllDayScenarioID int    `yaml:"all_day_scenario_id" mapstructure:"all_day_scenario_id"`
}

// ScenarioConfig holds per-scenario inputs.
type ScenarioConfig struct {
	MAZLandUseFile string `yaml:"maz_landuse_file" mapstructure:"maz_landuse_file"`
}

// HighwayConfig configures area type and speed derivation.
type HighwayConfig struct {
	AreaTypeBufferDistMiles float64         `yaml:"area_type_buffer_dist_miles" mapstructure:"area_type_buffer_dist_miles"`
	CapclassLookup          []CapclassSpeed `yaml:"capclass_lookup" mapstructure:"capclass_lookup"`
}

// CapclassSpeed maps a capacity class to a free-flow speed in mph. A nil
// speed leaves the class on the default speed.
type CapclassSpeed struct {
	Capclass      int      `yaml:"capclass" mapstructure:"capclass"`
	FreeFlowSpeed *float64 `yaml:"free_flow_speed" mapstructure:"free_flow_speed"`
}

// TransitConfig configures the transit bank pass.
type TransitConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// FixedGuidewaySpeeds maps #cntype to mph. Keys and link labels are both
	// folded with GuidewayKey, so the match is case-insensitive.
	FixedGuidewaySpeeds  map[string]float64 `yaml:"fixed_guideway_speeds" mapstructure:"fixed_guideway_speeds"`
	ConnectorLengthMiles float64            `yaml:"connector_length_miles" mapstructure:"connector_length_miles"`
	Modes                []TransitMode      `yaml:"modes" mapstructure:"modes"`
	Vehicles             []TransitVehicle   `yaml:"vehicles" mapstructure:"vehicles"`
}

// TransitMode is a network mode. Type is one of WALK, ACCESS, EGRESS or
// TRANSIT; the first three are auxiliary modes placed on links by position.
type TransitMode struct {
	ID   string `yaml:"id" mapstructure:"id"`
	Name string `yaml:"name" mapstructure:"name"`
	Type string `yaml:"type" mapstructure:"type"`
}

// TransitVehicle binds a vehicle id used by transit lines to its mode.
type TransitVehicle struct {
	ID   string `yaml:"id" mapstructure:"id"`
	Mode string `yaml:"mode" mapstructure:"mode"`
}

// TimePeriodConfig is one time-of-day period and its scenario slot.
type TimePeriodConfig struct {
	Name           string `yaml:"name" mapstructure:"name"`
	EmmeScenarioID int    `yaml:"emme_scenario_id" mapstructure:"emme_scenario_id"`
}

// FetchConfig configures remote land-use downloads.
type FetchConfig struct {
	TempDir     string  `yaml:"temp_dir" mapstructure:"temp_dir"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerHost float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("NETPREP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "netprep.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("run.concurrency", "MAX")
	v.SetDefault("emme.highway_bank", "highway")
	v.SetDefault("emme.transit_bank", "transit")
	v.SetDefault("emme.all_day_scenario_id", 1)
	v.SetDefault("scenario.maz_landuse_file", "inputs/landuse/maz_data.csv")
	v.SetDefault("highway.area_type_buffer_dist_miles", 0.5)
	v.SetDefault("transit.enabled", true)
	v.SetDefault("transit.fixed_guideway_speeds", map[string]float64{
		"CRAIL": 45,
		"HRAIL": 40,
		"LRAIL": 30,
		"FERRY": 15,
	})
	v.SetDefault("transit.connector_length_miles", 0.01)
	v.SetDefault("time_periods", []map[string]any{
		{"name": "EA", "emme_scenario_id": 11},
		{"name": "AM", "emme_scenario_id": 12},
		{"name": "MD", "emme_scenario_id": 13},
		{"name": "PM", "emme_scenario_id": 14},
		{"name": "EV", "emme_scenario_id": 15},
	})
	v.SetDefault("fetch.temp_dir", "/tmp/netprep")
	v.SetDefault("fetch.user_agent", "netprep/1.0")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_host", 5.0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields a command mode depends on. Every problem is
// reported in one configuration error.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "prepare":
		problems = append(problems, c.validateStore()...)
		problems = append(problems, c.validatePrepare()...)
	case "import", "read":
		problems = append(problems, c.validateStore()...)
	default:
		return errs.New(errs.KindConfiguration, "", "config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return errs.New(errs.KindConfiguration, "", "config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var problems []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	return problems
}

func (c *Config) validatePrepare() []string {
	var problems []string

	if c.Scenario.MAZLandUseFile == "" {
		problems = append(problems, "scenario.maz_landuse_file is required")
	}
	if !(c.Highway.AreaTypeBufferDistMiles > 0) {
		problems = append(problems, "highway.area_type_buffer_dist_miles must be > 0")
	}
	if c.Emme.HighwayBank == "" {
		problems = append(problems, "emme.highway_bank is required")
	}
	if c.Transit.Enabled && c.Emme.TransitBank == "" {
		problems = append(problems, "emme.transit_bank is required when transit is enabled")
	}
	if c.Emme.AllDayScenarioID <= 0 {
		problems = append(problems, "emme.all_day_scenario_id must be > 0")
	}
	if _, err := ParseConcurrency(c.Run.Concurrency); err != nil {
		problems = append(problems, err.Error())
	}

	problems = append(problems, c.validatePeriods()...)

	seen := make(map[int]bool, len(c.Highway.CapclassLookup))
	for _, row := range c.Highway.CapclassLookup {
		if seen[row.Capclass] {
			problems = append(problems, fmt.Sprintf("highway.capclass_lookup lists capclass %d twice", row.Capclass))
		}
		seen[row.Capclass] = true
		if row.FreeFlowSpeed != nil && *row.FreeFlowSpeed < 0 {
			problems = append(problems, fmt.Sprintf("highway.capclass_lookup capclass %d has negative speed", row.Capclass))
		}
	}

	for cntype, speed := range c.Transit.FixedGuidewaySpeeds {
		if !(speed > 0) {
			problems = append(problems, fmt.Sprintf("transit.fixed_guideway_speeds.%s must be > 0", cntype))
		}
	}
	if c.Transit.ConnectorLengthMiles < 0 {
		problems = append(problems, "transit.connector_length_miles must be >= 0")
	}
	modes := make(map[string]bool, len(c.Transit.Modes))
	for _, m := range c.Transit.Modes {
		switch strings.ToUpper(m.Type) {
		case "WALK", "ACCESS", "EGRESS", "TRANSIT":
		default:
			problems = append(problems, fmt.Sprintf("transit.modes %q has unknown type %q", m.ID, m.Type))
		}
		if m.ID == "" || modes[m.ID] {
			problems = append(problems, fmt.Sprintf("transit.modes id %q is empty or repeated", m.ID))
		}
		modes[m.ID] = true
	}
	for _, veh := range c.Transit.Vehicles {
		if !modes[veh.Mode] {
			problems = append(problems, fmt.Sprintf("transit.vehicles %q uses unknown mode %q", veh.ID, veh.Mode))
		}
	}

	return problems
}

// validatePeriods enforces non-empty, unique names where no name is a suffix
// of another, and unique slots distinct from the all-day slot.
func (c *Config) validatePeriods() []string {
	if len(c.TimePeriods) == 0 {
		return []string{"time_periods must not be empty"}
	}

	var problems []string
	ids := map[int]string{c.Emme.AllDayScenarioID: "all_day_scenario_id"}
	for i, p := range c.TimePeriods {
		if p.Name == "" {
			problems = append(problems, fmt.Sprintf("time_periods[%d].name is required", i))
			continue
		}
		if p.EmmeScenarioID <= 0 {
			problems = append(problems, fmt.Sprintf("time_periods %s emme_scenario_id must be > 0", p.Name))
		} else if owner, dup := ids[p.EmmeScenarioID]; dup {
			problems = append(problems, fmt.Sprintf("time_periods %s emme_scenario_id %d already used by %s", p.Name, p.EmmeScenarioID, owner))
		} else {
			ids[p.EmmeScenarioID] = p.Name
		}
		for j, q := range c.TimePeriods {
			if i == j || q.Name == "" {
				continue
			}
			if q.Name == p.Name && i < j {
				problems = append(problems, fmt.Sprintf("time_periods name %s is repeated", p.Name))
			} else if q.Name != p.Name && strings.HasSuffix(q.Name, p.Name) {
				problems = append(problems, fmt.Sprintf("time_periods name %s is a suffix of %s", p.Name, q.Name))
			}
		}
	}
	return problems
}

// ParseConcurrency converts "MAX", "MAX-N" or an integer into a worker
// count of at least 1.
func ParseConcurrency(s string) (int, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	cpus := runtime.NumCPU()
	switch {
	case s == "" || s == "MAX":
		return cpus, nil
	case strings.HasPrefix(s, "MAX-"):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "MAX-"))
		if err != nil || n < 0 {
			return 0, eris.Errorf("run.concurrency %q: expected MAX-<n>", s)
		}
		return max(cpus-n, 1), nil
	default:
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, eris.Errorf("run.concurrency %q: expected MAX, MAX-<n> or an integer", s)
		}
		if n < 1 {
			return 0, eris.Errorf("run.concurrency must be >= 1, got %d", n)
		}
		return n, nil
	}
}

// GuidewayKey folds a connector type for lookup in the table returned by
// Speeds. viper lowercases map keys while network labels are usually upper
// case.
func GuidewayKey(cntype string) string {
	return strings.ToUpper(cntype)
}

// Speeds returns the fixed-guideway speed table keyed by GuidewayKey.
func (t TransitConfig) Speeds() map[string]float64 {
	out := make(map[string]float64, len(t.FixedGuidewaySpeeds))
	for k, v := range t.FixedGuidewaySpeeds {
		out[GuidewayKey(k)] = v
	}
	return out
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
