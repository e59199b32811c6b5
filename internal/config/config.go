package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// Poll error policies.
const (
	OnPollErrorKeep  = "keep"
	OnPollErrorClear = "clear"
)

// Duration is a time.Duration that reads and writes YAML as a Go duration
// string ("60s", "1m30s").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// CalendarConfig describes an ICS feed whose events are merged into the
// events sidebar.
type CalendarConfig struct {
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// Locations limits the feed to these location ids. Empty means all.
	Locations []int `yaml:"locations,omitempty" json:"locations,omitempty"`
}

// CaptureConfig controls periodic screenshots of the display page.
type CaptureConfig struct {
	// Cron is a cron-style schedule; empty disables capture.
	Cron   string `yaml:"cron" json:"cron"`
	Output string `yaml:"output" json:"output"`
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
}

// DeviceConfig points at the UPS controller of the player hardware.
type DeviceConfig struct {
	// UPSI2CBus is the periph.io bus name ("" for the default bus).
	UPSI2CBus string `yaml:"ups_i2c_bus" json:"ups_i2c_bus"`
	// UPSI2CAddr is the 7-bit address; 0 disables power status.
	UPSI2CAddr uint16 `yaml:"ups_i2c_addr" json:"ups_i2c_addr"`
}

// Labels are the fixed strings rendered by the page.
type Labels struct {
	Header        string `yaml:"header" json:"header"`
	NoInformation string `yaml:"no_information" json:"no_information"`
	NoEvents      string `yaml:"no_events" json:"no_events"`
	NoOngoing     string `yaml:"no_ongoing" json:"no_ongoing"`
	EventsTitle   string `yaml:"events_title" json:"events_title"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the page and API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the page and API.
	Listen string `yaml:"listen" json:"listen"`

	// APIBaseURL is the backend root, e.g. "http://localhost:3333".
	APIBaseURL string `yaml:"api_base_url" json:"api_base_url"`

	// Timezone is the IANA timezone that defines "today" (e.g. "Asia/Jakarta").
	Timezone string `yaml:"timezone" json:"timezone"`

	// Locale is the BCP 47 tag the page uses for clock and date.
	Locale string `yaml:"locale" json:"locale"`

	// Location is the location id selected at start. 0 means none; a
	// selection persisted in the state store wins over this value.
	Location int `yaml:"location" json:"location"`

	PollInterval   Duration `yaml:"poll_interval" json:"poll_interval"`
	RequestTimeout Duration `yaml:"request_timeout" json:"request_timeout"`

	// OnPollError is "keep" (last good snapshot stays) or "clear".
	OnPollError string `yaml:"on_poll_error" json:"on_poll_error"`

	ImageDwell           Duration `yaml:"image_dwell" json:"image_dwell"`
	EmbedDwell           Duration `yaml:"embed_dwell" json:"embed_dwell"`
	VideoMetadataTimeout Duration `yaml:"video_metadata_timeout" json:"video_metadata_timeout"`

	// MaxEvents caps the upcoming events list.
	MaxEvents int `yaml:"max_events" json:"max_events"`

	Labels Labels `yaml:"labels" json:"labels"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// StatePath is the SQLite file for the last good snapshot. Empty disables it.
	StatePath string `yaml:"state_path" json:"state_path"`

	Calendars       []CalendarConfig `yaml:"calendars" json:"calendars"`
	CalendarRefresh string           `yaml:"calendar_refresh" json:"calendar_refresh"`
	CalendarCache   string           `yaml:"calendar_cache" json:"calendar_cache"`

	Capture CaptureConfig `yaml:"capture" json:"capture"`
	Device  DeviceConfig  `yaml:"device" json:"device"`

	// CORSOrigins are allowed origins for /api/*.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

func defaultLabels() Labels {
	return Labels{
		Header:        "TPS INFORMATION",
		NoInformation: "No information today...",
		NoEvents:      "No events today...",
		NoOngoing:     "Tidak ada event yang sedang berlangsung",
		EventsTitle:   "Upcoming Events",
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:               "127.0.0.1:8080",
		APIBaseURL:           "http://localhost:3333",
		Timezone:             "Asia/Jakarta",
		Locale:               "id-ID",
		PollInterval:         Duration(60 * time.Second),
		RequestTimeout:       Duration(15 * time.Second),
		OnPollError:          OnPollErrorKeep,
		ImageDwell:           Duration(10 * time.Second),
		EmbedDwell:           Duration(60 * time.Second),
		VideoMetadataTimeout: Duration(60 * time.Second),
		MaxEvents:            5,
		Labels:               defaultLabels(),
		LogLevel:             "info",
		StatePath:            "/var/lib/signage/state.db",
		Calendars:            []CalendarConfig{},
		CalendarRefresh:      "*/15 * * * *",
		CalendarCache:        "/var/lib/signage/ics-cache",
		Capture: CaptureConfig{
			Output: "/var/lib/signage/preview.png",
			Width:  1920,
			Height: 1080,
		},
		CORSOrigins: []string{"*"},
		BasicAuth:   nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	if c.APIBaseURL == "" {
		c.APIBaseURL = def.APIBaseURL
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.Locale == "" {
		c.Locale = def.Locale
	}
	if c.Location < 0 {
		c.Location = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	switch c.OnPollError {
	case OnPollErrorKeep, OnPollErrorClear:
		// ok
	default:
		// Unknown or empty: keep the last good snapshot.
		c.OnPollError = OnPollErrorKeep
	}
	if c.ImageDwell <= 0 {
		c.ImageDwell = def.ImageDwell
	}
	if c.EmbedDwell <= 0 {
		c.EmbedDwell = def.EmbedDwell
	}
	if c.VideoMetadataTimeout <= 0 {
		c.VideoMetadataTimeout = def.VideoMetadataTimeout
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = def.MaxEvents
	}
	c.Labels.fill(def.Labels)
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
	if c.CalendarRefresh == "" {
		c.CalendarRefresh = def.CalendarRefresh
	}
	if c.CalendarCache == "" {
		c.CalendarCache = def.CalendarCache
	}
	if c.Capture.Output == "" {
		c.Capture.Output = def.Capture.Output
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = def.Capture.Width
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = def.Capture.Height
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = def.CORSOrigins
	}
}

func (l *Labels) fill(def Labels) {
	if l.Header == "" {
		l.Header = def.Header
	}
	if l.NoInformation == "" {
		l.NoInformation = def.NoInformation
	}
	if l.NoEvents == "" {
		l.NoEvents = def.NoEvents
	}
	if l.NoOngoing == "" {
		l.NoOngoing = def.NoOngoing
	}
	if l.EventsTitle == "" {
		l.EventsTitle = def.EventsTitle
	}
}

// ApplyEnv overrides selected fields from the environment. Callers load an
// optional .env file first (see cmd/signage).
func (c *Config) ApplyEnv() {
	c.APIBaseURL = getEnv("SIGNAGE_API_BASE_URL", c.APIBaseURL)
	c.Listen = getEnv("SIGNAGE_LISTEN", c.Listen)
	c.Location = getEnvAsInt("SIGNAGE_LOCATION", c.Location)
	c.LogLevel = getEnv("SIGNAGE_LOG_LEVEL", c.LogLevel)
	c.Normalize()
}

// DisplayLocation resolves Timezone, falling back to time.Local.
func (c *Config) DisplayLocation() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
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

	tmp, err := os.CreateTemp(dir, ".signage-config-*.tmp")
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return defaultValue
}
