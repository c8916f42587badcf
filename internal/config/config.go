package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vango-dev/hotreload/internal/errors"
)

const (
	// ConfigName is the base name of the configuration file.
	ConfigName = "hotreload"

	// EnvPrefix prefixes environment overrides (HOTRELOAD_ROOT, ...).
	EnvPrefix = "HOTRELOAD"

	// DefaultPollInterval is the scan strategy tick in milliseconds.
	DefaultPollInterval = 1000

	// DefaultDebounceWindow is the minimum gap between reloads in milliseconds.
	DefaultDebounceWindow = 1000

	// DefaultSignal is sent to the master process by the signal trigger.
	DefaultSignal = "USR1"
)

// Config is the complete watcher configuration. It is immutable once
// returned by Load; callers must not mutate it while a watcher runs.
type Config struct {
	// Root is the directory tree to watch.
	Root string `mapstructure:"root" json:"root"`

	// Extensions restricts watching to these file extensions. Empty means all.
	Extensions []string `mapstructure:"extensions" json:"extensions,omitempty"`

	// PollInterval is the scan strategy tick in milliseconds.
	PollInterval int `mapstructure:"pollInterval" json:"pollInterval"`

	// DebounceWindow is the minimum time between two reloads in milliseconds.
	DebounceWindow int `mapstructure:"debounceWindow" json:"debounceWindow"`

	// NotifyDisabled forces the scan strategy even when notifications exist.
	NotifyDisabled bool `mapstructure:"notifyDisabled" json:"notifyDisabled,omitempty"`

	// MaxTracked caps the identity table. Zero means unbounded.
	MaxTracked int `mapstructure:"maxTracked" json:"maxTracked,omitempty"`

	// FallbackToScan switches to the scan strategy if notify setup fails.
	FallbackToScan bool `mapstructure:"fallbackToScan" json:"fallbackToScan,omitempty"`

	// WorkerID selects the role of this process; only worker 0 watches.
	WorkerID int `mapstructure:"workerID" json:"workerID"`

	// Listen is the status/metrics HTTP address. Empty disables the server.
	Listen string `mapstructure:"listen" json:"listen,omitempty"`

	// Reload configures the reload collaborators.
	Reload ReloadConfig `mapstructure:"reload" json:"reload"`

	// configPath stores the file the config was loaded from, if any.
	configPath string
}

// ReloadConfig selects which reload triggers are built.
type ReloadConfig struct {
	// Signal sends a signal to a running master process.
	Signal SignalConfig `mapstructure:"signal" json:"signal"`

	// Exec is a worker-pool command supervised and restarted on reload.
	Exec []string `mapstructure:"exec" json:"exec,omitempty"`

	// Broadcast pushes reload messages to WebSocket clients.
	Broadcast bool `mapstructure:"broadcast" json:"broadcast,omitempty"`

	// S3 writes a reload marker object for peer hosts.
	S3 S3Config `mapstructure:"s3" json:"s3"`
}

// SignalConfig configures the signal trigger.
type SignalConfig struct {
	// PID of the master process. Zero disables the trigger.
	PID int `mapstructure:"pid" json:"pid,omitempty"`

	// Name of the signal without the SIG prefix (USR1, USR2, HUP, TERM).
	Name string `mapstructure:"name" json:"name,omitempty"`
}

// S3Config configures the S3 reload marker.
type S3Config struct {
	Bucket string `mapstructure:"bucket" json:"bucket,omitempty"`
	Prefix string `mapstructure:"prefix" json:"prefix,omitempty"`
	Region string `mapstructure:"region" json:"region,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		PollInterval:   DefaultPollInterval,
		DebounceWindow: DefaultDebounceWindow,
		Reload: ReloadConfig{
			Signal: SignalConfig{Name: DefaultSignal},
		},
	}
}

// newViper returns a viper instance with defaults and env overrides wired.
func newViper() *viper.Viper {
	v := viper.New()
	d := New()
	v.SetDefault("root", d.Root)
	v.SetDefault("extensions", []string{})
	v.SetDefault("pollInterval", d.PollInterval)
	v.SetDefault("debounceWindow", d.DebounceWindow)
	v.SetDefault("notifyDisabled", false)
	v.SetDefault("maxTracked", 0)
	v.SetDefault("fallbackToScan", false)
	v.SetDefault("workerID", 0)
	v.SetDefault("listen", "")
	v.SetDefault("reload.signal.pid", 0)
	v.SetDefault("reload.signal.name", d.Reload.Signal.Name)
	v.SetDefault("reload.exec", []string{})
	v.SetDefault("reload.broadcast", false)
	v.SetDefault("reload.s3.bucket", "")
	v.SetDefault("reload.s3.prefix", "")
	v.SetDefault("reload.s3.region", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Loader reads configuration from a file, the environment and bound flags.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a Loader with defaults and environment overrides.
func NewLoader() *Loader {
	return &Loader{v: newViper()}
}

// BindFlags binds command line flags by name. Flag names map onto config
// keys through the table given; unknown flags are ignored.
func (l *Loader) BindFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for flagName, key := range keys {
		f := flags.Lookup(flagName)
		if f == nil {
			continue
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return errors.New("E120").WithDetail("binding flag --" + flagName).Wrap(err)
		}
	}
	return nil
}

// Set overrides a single key, taking precedence over file and env.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// Load looks for hotreload.{json,yaml,toml} in dir. A missing file is not
// an error: the result is built from defaults, env and flags alone.
func (l *Loader) Load(dir string) (*Config, error) {
	l.v.SetConfigName(ConfigName)
	l.v.AddConfigPath(dir)

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return nil, errors.New("E120").
				WithPath(dir).
				WithDetail("Failed to parse configuration: " + err.Error()).
				WithSuggestion("Check that " + ConfigName + ".json is valid")
		}
	}
	return l.decode()
}

// LoadFile reads configuration from the given file path.
func (l *Loader) LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E141").
				WithPath(path).
				WithSuggestion("Pass an existing file to --config or omit the flag")
		}
		return nil, errors.New("E120").WithPath(path).Wrap(err)
	}

	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		return nil, errors.New("E120").
			WithPath(path).
			WithDetail("Failed to parse configuration: " + err.Error())
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	cfg := New()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, errors.New("E120").Wrap(err)
	}
	cfg.configPath = l.v.ConfigFileUsed()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads configuration from dir with environment overrides.
func Load(dir string) (*Config, error) {
	return NewLoader().Load(dir)
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	return NewLoader().LoadFile(path)
}

// applyDefaults fills in values left empty and normalizes the rest.
func (c *Config) applyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Reload.Signal.Name == "" {
		c.Reload.Signal.Name = DefaultSignal
	}
	c.Reload.Signal.Name = strings.TrimPrefix(strings.ToUpper(c.Reload.Signal.Name), "SIG")

	// Relative roots are resolved against the config file's directory.
	if c.Root != "" && !filepath.IsAbs(c.Root) && c.configPath != "" {
		c.Root = filepath.Join(filepath.Dir(c.configPath), c.Root)
	}

	c.Extensions = NormalizeExtensions(c.Extensions)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return errors.New("E121").
			WithDetail("root is required").
			WithSuggestion("Set root in " + ConfigName + ".json or pass it as an argument")
	}
	if c.PollInterval < 0 {
		return errors.New("E121").WithDetail("pollInterval must be positive")
	}
	if c.DebounceWindow < 0 {
		return errors.New("E121").WithDetail("debounceWindow must not be negative")
	}
	if c.MaxTracked < 0 {
		return errors.New("E121").WithDetail("maxTracked must not be negative")
	}
	if c.WorkerID < 0 {
		return errors.New("E121").WithDetail("workerID must not be negative")
	}
	if c.Reload.Signal.PID < 0 {
		return errors.New("E121").WithDetail("reload.signal.pid must not be negative")
	}
	if _, ok := signalNames[c.Reload.Signal.Name]; !ok {
		return errors.New("E121").
			WithDetail("unknown reload.signal.name " + c.Reload.Signal.Name).
			WithSuggestion("Use one of USR1, USR2, HUP, TERM, INT")
	}
	return nil
}

var signalNames = map[string]struct{}{
	"USR1": {},
	"USR2": {},
	"HUP":  {},
	"TERM": {},
	"INT":  {},
}

// NormalizeExtensions strips leading dots, drops blanks and duplicates.
func NormalizeExtensions(exts []string) []string {
	if len(exts) == 0 {
		return nil
	}
	out := make([]string, 0, len(exts))
	seen := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
		if ext == "" {
			continue
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	return out
}

// Path returns the file the config was loaded from, or "".
func (c *Config) Path() string {
	return c.configPath
}

// RootPath returns the absolute, cleaned root directory.
func (c *Config) RootPath() string {
	abs, err := filepath.Abs(c.Root)
	if err != nil {
		return filepath.Clean(c.Root)
	}
	return abs
}

// PollEvery returns the scan tick as a duration.
func (c *Config) PollEvery() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// Debounce returns the debounce window as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceWindow) * time.Millisecond
}

// HasStatusServer reports whether the status/metrics server should run.
func (c *Config) HasStatusServer() bool {
	return c.Listen != ""
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	for _, ext := range []string{".json", ".yaml", ".yml", ".toml"} {
		if _, err := os.Stat(filepath.Join(dir, ConfigName+ext)); err == nil {
			return true
		}
	}
	return false
}
