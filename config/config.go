// Package config holds the settings of the frame loop and the viewer.
package config

import (
	"bytes"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
	"github.com/vkngwrapper/frameloop/gpu"
	"golang.org/x/exp/slog"
)

// MinIdleSleep bounds how often the loop polls while nothing is presentable.
const MinIdleSleep = 50 * time.Millisecond

type Config struct {
	Title      string
	Width      int
	Height     int
	Validation bool
	// MinAPIVersion is the lowest Vulkan version a device may report, as
	// "major.minor".
	MinAPIVersion string
	// ShaderPath is the compiled compute shader that fills the draw image.
	ShaderPath string
	// PipelineCachePath is where pipeline cache data persists between runs.
	// Empty disables persistence.
	PipelineCachePath string

	FenceTimeout   time.Duration
	AcquireTimeout time.Duration
	// IdleSleep is how long the loop sleeps per iteration while the window
	// is minimized.
	IdleSleep time.Duration

	LogLevel string
}

func Default() Config {
	return Config{
		Title:             "frameloop",
		Width:             1700,
		Height:            900,
		Validation:        false,
		MinAPIVersion:     "1.3",
		ShaderPath:        "shaders/gradient.comp.spv",
		PipelineCachePath: "",
		FenceTimeout:      time.Second,
		AcquireTimeout:    time.Second,
		IdleSleep:         100 * time.Millisecond,
		LogLevel:          "info",
	}
}

// fileConfig is the TOML layout. Durations are strings such as "1s".
type fileConfig struct {
	Title             *string `toml:"title"`
	Width             *int    `toml:"width"`
	Height            *int    `toml:"height"`
	Validation        *bool   `toml:"validation"`
	MinAPIVersion     *string `toml:"min_api_version"`
	ShaderPath        *string `toml:"shader_path"`
	PipelineCachePath *string `toml:"pipeline_cache_path"`
	FenceTimeout      *string `toml:"fence_timeout"`
	AcquireTimeout    *string `toml:"acquire_timeout"`
	IdleSleep         *string `toml:"idle_sleep"`
	LogLevel          *string `toml:"log_level"`
}

// Load reads a TOML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := cfg.apply(data); err != nil {
		return cfg, errors.Wrapf(err, "parse %s", path)
	}
	return cfg, nil
}

func (c *Config) apply(data []byte) error {
	var f fileConfig
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&f); err != nil {
		return err
	}

	setString(&c.Title, f.Title)
	setString(&c.MinAPIVersion, f.MinAPIVersion)
	setString(&c.ShaderPath, f.ShaderPath)
	setString(&c.PipelineCachePath, f.PipelineCachePath)
	setString(&c.LogLevel, f.LogLevel)
	if f.Width != nil {
		c.Width = *f.Width
	}
	if f.Height != nil {
		c.Height = *f.Height
	}
	if f.Validation != nil {
		c.Validation = *f.Validation
	}

	for _, d := range []struct {
		name  string
		value *string
		dst   *time.Duration
	}{
		{"fence_timeout", f.FenceTimeout, &c.FenceTimeout},
		{"acquire_timeout", f.AcquireTimeout, &c.AcquireTimeout},
		{"idle_sleep", f.IdleSleep, &c.IdleSleep},
	} {
		if d.value == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return errors.Wrapf(err, "%s", d.name)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// BindFlags registers a flag for every setting, defaulting to c's values.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Title, "title", c.Title, "window title")
	fs.IntVar(&c.Width, "width", c.Width, "initial window width")
	fs.IntVar(&c.Height, "height", c.Height, "initial window height")
	fs.BoolVar(&c.Validation, "validation", c.Validation, "enable the Khronos validation layer")
	fs.StringVar(&c.MinAPIVersion, "min-api", c.MinAPIVersion, "minimum Vulkan API version")
	fs.StringVar(&c.ShaderPath, "shader", c.ShaderPath, "compiled compute shader")
	fs.StringVar(&c.PipelineCachePath, "pipeline-cache", c.PipelineCachePath, "pipeline cache file")
	fs.DurationVar(&c.FenceTimeout, "fence-timeout", c.FenceTimeout, "how long to wait for a frame to finish")
	fs.DurationVar(&c.AcquireTimeout, "acquire-timeout", c.AcquireTimeout, "how long to wait for a swapchain image")
	fs.DurationVar(&c.IdleSleep, "idle-sleep", c.IdleSleep, "sleep per loop iteration while minimized")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
}

// FromArgs builds the configuration from command-line arguments. A --config
// file, if given, is applied first and the remaining flags override it.
func FromArgs(args []string) (Config, error) {
	pre := pflag.NewFlagSet("config", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist = pflag.ParseErrorsWhitelist{UnknownFlags: true}
	pre.Usage = func() {}
	path := pre.String("config", "", "TOML configuration file")
	pre.BoolP("help", "h", false, "")
	if err := pre.Parse(args); err != nil {
		return Config{}, errors.Wrap(err, "parse flags")
	}

	cfg := Default()
	if *path != "" {
		loaded, err := Load(*path)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	fs := pflag.NewFlagSet("viewer", pflag.ContinueOnError)
	fs.String("config", *path, "TOML configuration file")
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, errors.Wrap(err, "parse flags")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return errors.Newf("invalid window size %dx%d", c.Width, c.Height)
	case c.FenceTimeout <= 0:
		return errors.Newf("fence timeout must be positive, got %s", c.FenceTimeout)
	case c.AcquireTimeout <= 0:
		return errors.Newf("acquire timeout must be positive, got %s", c.AcquireTimeout)
	case c.IdleSleep < MinIdleSleep:
		return errors.Newf("idle sleep must be at least %s, got %s", MinIdleSleep, c.IdleSleep)
	case c.ShaderPath == "":
		return errors.New("no shader path")
	}

	if _, err := c.APIVersion(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c Config) APIVersion() (gpu.APIVersion, error) {
	return gpu.ParseAPIVersion(c.MinAPIVersion)
}

// Requirements returns the device requirements with the configured minimum
// API version.
func (c Config) Requirements() (gpu.Requirements, error) {
	req := gpu.DefaultRequirements()
	version, err := c.APIVersion()
	if err != nil {
		return req, err
	}
	req.MinAPIVersion = version
	return req, nil
}

func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, errors.Wrapf(err, "log level %q", c.LogLevel)
	}
	return level, nil
}
