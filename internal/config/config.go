package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"calnote/internal/model"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// CalDAVConfig holds the CalDAV server endpoint and Basic Auth credentials.
type CalDAVConfig struct {
	// ServerURL is the server base, e.g. "https://dav.example.com".
	// Discovery starts from this URL.
	ServerURL string `yaml:"server_url" json:"server_url"`
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"password"`
}

// RESTConfig holds the vendor REST calendar API settings.
type RESTConfig struct {
	// BaseURL is the API root, e.g. "https://api.example.com/open/v1".
	BaseURL      string `yaml:"base_url" json:"base_url"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	RedirectURL  string `yaml:"redirect_url" json:"redirect_url"`
	AuthURL      string `yaml:"auth_url" json:"auth_url"`
	TokenURL     string `yaml:"token_url" json:"token_url"`
	// TokenPath is the bolt database file where tokens are persisted.
	TokenPath string `yaml:"token_path" json:"token_path"`
}

// Policy groups the named business-rule defaults that used to live as
// inline magic numbers: the synthetic start hour assigned to all-day
// events, the duration assumed when DTEND is absent, and the categories
// assigned when classification finds no keyword match.
type Policy struct {
	// AllDayStartHour is the local hour-of-day given to date-only events.
	AllDayStartHour int `yaml:"all_day_start_hour" json:"all_day_start_hour"`
	// DefaultDurationMinutes applies when an event carries no end time.
	DefaultDurationMinutes int `yaml:"default_duration_minutes" json:"default_duration_minutes"`
	// DefaultEventCategory is assigned to unclassified calendar events.
	DefaultEventCategory model.Category `yaml:"default_event_category" json:"default_event_category"`
	// DefaultTaskCategory is assigned to unclassified tasks.
	DefaultTaskCategory model.Category `yaml:"default_task_category" json:"default_task_category"`
}

// Config is the top-level application configuration. Components receive
// the values they need through their constructors; nothing reads this
// struct ambiently after startup.
type Config struct {
	// Source selects the remote side: "caldav" or "rest".
	Source string `yaml:"source" json:"source"`

	CalDAV CalDAVConfig `yaml:"caldav" json:"caldav"`
	REST   RESTConfig   `yaml:"rest" json:"rest"`

	// NotesDir is the root of the local note store.
	NotesDir string `yaml:"notes_dir" json:"notes_dir"`

	// NotePathTemplate names one file per calendar date relative to
	// NotesDir. Supported tokens: {year} {month} {day}.
	NotePathTemplate string `yaml:"note_path_template" json:"note_path_template"`

	// SyncCron is a cron-style schedule string (e.g. "*/15 * * * *") used
	// for periodic background sync. If empty, auto-sync is disabled.
	SyncCron string `yaml:"sync_cron" json:"sync_cron"`

	// HorizonDays is the number of days each sync pass covers, starting
	// at the query start date.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// Keywords maps each category to its ordered keyword list used by the
	// classifier. Matching is case-insensitive substring.
	Keywords map[model.Category][]string `yaml:"keywords" json:"keywords"`

	Policy Policy `yaml:"policy" json:"policy"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Source:           "caldav",
		NotesDir:         "./notes",
		NotePathTemplate: "{year}-{month}-{day}.md",
		SyncCron:         "",
		HorizonDays:      7,
		Keywords:         defaultKeywords(),
		Policy: Policy{
			AllDayStartHour:        9,
			DefaultDurationMinutes: 60,
			DefaultEventCategory:   model.CategoryMeeting,
			DefaultTaskCategory:    model.CategoryFocus,
		},
	}
}

func defaultKeywords() map[model.Category][]string {
	return map[model.Category][]string{
		model.CategoryRest:     {"break", "lunch", "rest", "walk"},
		model.CategoryMeeting:  {"meeting", "sync", "standup", "1:1", "review", "interview"},
		model.CategoryPersonal: {"gym", "doctor", "family", "errand"},
		model.CategoryAdmin:    {"email", "admin", "expense", "planning"},
		model.CategoryFocus:    {"focus", "deep work", "write", "code", "study"},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	switch c.Source {
	case "caldav", "rest":
		// ok
	default:
		c.Source = "caldav"
	}
	if c.NotesDir == "" {
		c.NotesDir = "./notes"
	}
	if c.NotePathTemplate == "" {
		c.NotePathTemplate = "{year}-{month}-{day}.md"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 7
	}
	if c.Keywords == nil {
		c.Keywords = defaultKeywords()
	}
	if c.Policy.AllDayStartHour <= 0 || c.Policy.AllDayStartHour > 23 {
		c.Policy.AllDayStartHour = 9
	}
	if c.Policy.DefaultDurationMinutes <= 0 {
		c.Policy.DefaultDurationMinutes = 60
	}
	if c.Policy.DefaultEventCategory == "" {
		c.Policy.DefaultEventCategory = model.CategoryMeeting
	}
	if c.Policy.DefaultTaskCategory == "" {
		c.Policy.DefaultTaskCategory = model.CategoryFocus
	}
	if c.REST.TokenPath == "" {
		c.REST.TokenPath = "./tokens.db"
	}
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

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".calnote-config-*.tmp")
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

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
