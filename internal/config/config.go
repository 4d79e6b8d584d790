package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"calmonitor/internal/compliance"
	appLog "calmonitor/internal/log"
	"calmonitor/internal/occupancy"
)

// Calendar providers.
const (
	ProviderGoogle = "google"
	ProviderICS    = "ics"
)

// GoogleConfig names the environment variables holding the OAuth client
// credentials; secrets never live in the config file.
type GoogleConfig struct {
	ClientIDEnv     string `yaml:"client_id_env" json:"client_id_env"`
	ClientSecretEnv string `yaml:"client_secret_env" json:"client_secret_env"`
	RedirectURL     string `yaml:"redirect_url" json:"redirect_url"`
}

func (g GoogleConfig) ClientID() string     { return os.Getenv(g.ClientIDEnv) }
func (g GoogleConfig) ClientSecret() string { return os.Getenv(g.ClientSecretEnv) }

// ICSConfig maps member emails to ICS subscription URLs.
type ICSConfig struct {
	CacheDir string            `yaml:"cache_dir" json:"cache_dir"`
	Feeds    map[string]string `yaml:"feeds" json:"feeds"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone day bounds and working hours are read in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Threshold is the primary empty-percentage limit.
	Threshold          int    `yaml:"threshold" json:"threshold"`
	SecondaryThreshold int    `yaml:"secondary_threshold" json:"secondary_threshold"`
	Policy             string `yaml:"policy" json:"policy"`

	ReportDays int `yaml:"report_days" json:"report_days"`

	// Schedule is a standard 5-field cron expression for the daily check,
	// evaluated in Timezone. Empty disables the scheduler.
	Schedule string `yaml:"schedule" json:"schedule"`

	// FetchInterval is the minimum spacing between provider calls.
	FetchInterval time.Duration `yaml:"fetch_interval" json:"fetch_interval"`

	DayWindow occupancy.DayWindow `yaml:"day_window" json:"day_window"`

	RosterPath string `yaml:"roster_path" json:"roster_path"`

	Provider string       `yaml:"provider" json:"provider"`
	Google   GoogleConfig `yaml:"google" json:"google"`
	ICS      ICSConfig    `yaml:"ics" json:"ics"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:             "127.0.0.1:3000",
		Timezone:           "America/Bogota",
		Threshold:          30,
		SecondaryThreshold: 70,
		Policy:             string(compliance.PolicySingleDay),
		ReportDays:         10,
		Schedule:           "0 9 * * *",
		DayWindow:          occupancy.StandardWindow(),
		RosterPath:         "roster.yaml",
		Provider:           ProviderGoogle,
		Google: GoogleConfig{
			ClientIDEnv:     "GOOGLE_CLIENT_ID",
			ClientSecretEnv: "GOOGLE_CLIENT_SECRET",
			RedirectURL:     "http://localhost:3000/oauth2callback",
		},
		ICS: ICSConfig{
			CacheDir: "./var/ics-cache",
			Feeds:    map[string]string{},
		},
	}
}

// Normalize fills empty fields with defaults so partially filled files
// still behave.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.Policy == "" {
		c.Policy = d.Policy
	}
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.Google.ClientIDEnv == "" {
		c.Google.ClientIDEnv = d.Google.ClientIDEnv
	}
	if c.Google.ClientSecretEnv == "" {
		c.Google.ClientSecretEnv = d.Google.ClientSecretEnv
	}
	if c.Google.RedirectURL == "" {
		c.Google.RedirectURL = d.Google.RedirectURL
	}
	if c.ICS.Feeds == nil {
		c.ICS.Feeds = map[string]string{}
	}
	c.DayWindow.Normalize()
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if err := c.Thresholds().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := compliance.ParsePolicy(c.Policy); err != nil {
		errs = append(errs, err)
	}
	if c.ReportDays < 0 || c.ReportDays > compliance.MaxReportDays {
		errs = append(errs, fmt.Errorf("%w: report_days %d", compliance.ErrInvalidDays, c.ReportDays))
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", c.Schedule, err))
		}
	}
	if c.FetchInterval < 0 {
		errs = append(errs, errors.New("fetch_interval must not be negative"))
	}
	if err := c.DayWindow.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("day_window: %w", err))
	}
	switch c.Provider {
	case ProviderGoogle, ProviderICS:
	default:
		errs = append(errs, fmt.Errorf("provider %q must be %q or %q", c.Provider, ProviderGoogle, ProviderICS))
	}
	return errors.Join(errs...)
}

// Warnings lists settings that are valid but probably unintended.
func (c *Config) Warnings() []string {
	var out []string
	if !c.DayWindow.Consistent() {
		out = append(out, fmt.Sprintf("day_window.total_slots is %d but the window holds %d countable slots",
			c.DayWindow.TotalSlots, c.DayWindow.CountableSlots()))
	}
	if c.Provider == ProviderGoogle && (c.Google.ClientID() == "" || c.Google.ClientSecret() == "") {
		out = append(out, fmt.Sprintf("google provider selected but %s or %s is not set",
			c.Google.ClientIDEnv, c.Google.ClientSecretEnv))
	}
	if c.Provider == ProviderICS && len(c.ICS.Feeds) == 0 {
		out = append(out, "ics provider selected but no feeds are configured")
	}
	return out
}

// ApplyEnv applies the THRESHOLD and PORT overrides.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("THRESHOLD %q: %w", v, err)
		}
		c.Threshold = n
	}
	if v := getenv("PORT"); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("PORT %q: %w", v, err)
		}
		host, _, err := net.SplitHostPort(c.Listen)
		if err != nil {
			host = ""
		}
		c.Listen = net.JoinHostPort(host, v)
	}
	return nil
}

// Location loads Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) Thresholds() compliance.Thresholds {
	return compliance.Thresholds{Primary: c.Threshold, Secondary: c.SecondaryThreshold}
}

// Settings converts the config into checker settings.
func (c *Config) Settings() compliance.Settings {
	return compliance.Settings{
		Policy:     compliance.Policy(c.Policy),
		Thresholds: c.Thresholds(),
		Window:     c.DayWindow,
		Location:   c.Location(),
	}
}

// Load reads the YAML file at path over the defaults, normalizes and
// validates it. On first run (no file) the defaults are written with 0600
// permissions and returned. Warnings are logged.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		appLog.Info("config not found, writing defaults", "path", path)
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	for _, w := range cfg.Warnings() {
		appLog.Warn("config warning", "path", path, "warning", w)
	}
	return cfg, nil
}

// Save writes cfg atomically (temp file and rename in the same directory)
// with 0600 permissions, creating the parent directory with 0700.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calmonitor-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
