package x11guard

import (
	"bytes"
	"io"
	"os"
	"time"

	"git.unix.lgbt/diamondburned/x11guard/x11guard/internal/procscan"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the guard configuration. It is read once at startup and never
// modified afterwards.
type Config struct {
	// AppName is the process name of the target.
	AppName string
	// Threshold is the connection count above which a restart is considered.
	Threshold int
	// RestartCmd is the shell command that relaunches the target. AppName is
	// used if it is empty.
	RestartCmd string
	// Display is the X11 display whose connections are counted.
	Display string
	// SocketDir is the directory holding the display's UNIX sockets.
	SocketDir string
	// ProcRoot is the mount point of the proc filesystem.
	ProcRoot string

	Cooldown     time.Duration
	FallbackPoll time.Duration
	ScanInterval time.Duration
	GraceTimeout time.Duration
	KillTimeout  time.Duration
	Debounce     time.Duration

	DryRun bool
}

// DefaultConfig returns the default configuration. Display is taken from
// $DISPLAY.
func DefaultConfig() Config {
	display := os.Getenv("DISPLAY")
	if display == "" {
		display = ":0"
	}

	return Config{
		AppName:      "qq",
		Threshold:    10,
		Display:      display,
		SocketDir:    procscan.DefaultSocketDir,
		ProcRoot:     procscan.DefaultRoot,
		Cooldown:     120 * time.Second,
		FallbackPoll: 15 * time.Second,
		ScanInterval: 2 * time.Second,
		GraceTimeout: 8 * time.Second,
		KillTimeout:  3 * time.Second,
		Debounce:     200 * time.Millisecond,
	}
}

// Command returns the command that relaunches the target.
func (c Config) Command() string {
	if c.RestartCmd != "" {
		return c.RestartCmd
	}
	return c.AppName
}

// Validate returns an error describing the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.AppName == "":
		return errors.New("app name must not be empty")
	case c.Threshold < 1:
		return errors.Errorf("threshold must be at least 1, got %d", c.Threshold)
	case c.Cooldown < 0:
		return errors.Errorf("cooldown must not be negative, got %v", c.Cooldown)
	case c.FallbackPoll <= 0:
		return errors.Errorf("fallback poll must be positive, got %v", c.FallbackPoll)
	case c.ScanInterval <= 0:
		return errors.Errorf("scan interval must be positive, got %v", c.ScanInterval)
	case c.GraceTimeout < 0:
		return errors.Errorf("grace timeout must not be negative, got %v", c.GraceTimeout)
	case c.KillTimeout < 0:
		return errors.Errorf("kill timeout must not be negative, got %v", c.KillTimeout)
	case c.Debounce < 0:
		return errors.Errorf("debounce must not be negative, got %v", c.Debounce)
	case c.ProcRoot == "":
		return errors.New("proc root must not be empty")
	}

	if _, err := procscan.ParseDisplay(c.Display); err != nil {
		return err
	}

	return nil
}

// FileConfig is the optional configuration file. Only the keys present in the
// file are applied. Durations are given in whole seconds, except for the
// debounce which is in milliseconds.
type FileConfig struct {
	AppName      *string `yaml:"app_name"`
	Threshold    *int    `yaml:"threshold"`
	RestartCmd   *string `yaml:"restart_cmd"`
	Display      *string `yaml:"display"`
	SocketDir    *string `yaml:"socket_dir"`
	Cooldown     *int    `yaml:"cooldown"`
	FallbackPoll *int    `yaml:"fallback_poll"`
	ScanInterval *int    `yaml:"scan_interval"`
	GraceTimeout *int    `yaml:"grace_timeout"`
	KillTimeout  *int    `yaml:"kill_timeout"`
	DebounceMS   *int    `yaml:"debounce_ms"`
	DryRun       *bool   `yaml:"dry_run"`

	Journal     *string `yaml:"journal"`
	MetricsAddr *string `yaml:"metrics_addr"`
}

// LoadConfigFile reads the YAML configuration file at path. Unknown keys are
// rejected.
func LoadConfigFile(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var f FileConfig

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(err, "failed to parse config file %q", path)
	}

	return &f, nil
}

// Apply copies the settings present in the file into cfg. A setting is left
// alone if explicit reports that its command-line flag, named by its long
// name, was given.
func (f *FileConfig) Apply(cfg *Config, explicit func(flag string) bool) {
	str := func(flag string, v *string, dst *string) {
		if v != nil && !explicit(flag) {
			*dst = *v
		}
	}

	seconds := func(flag string, v *int, dst *time.Duration, unit time.Duration) {
		if v != nil && !explicit(flag) {
			*dst = time.Duration(*v) * unit
		}
	}

	str("app-name", f.AppName, &cfg.AppName)
	str("restart-cmd", f.RestartCmd, &cfg.RestartCmd)
	str("display", f.Display, &cfg.Display)
	str("socket-dir", f.SocketDir, &cfg.SocketDir)

	if f.Threshold != nil && !explicit("threshold") {
		cfg.Threshold = *f.Threshold
	}
	if f.DryRun != nil && !explicit("dry-run") {
		cfg.DryRun = *f.DryRun
	}

	seconds("cooldown", f.Cooldown, &cfg.Cooldown, time.Second)
	seconds("fallback-poll", f.FallbackPoll, &cfg.FallbackPoll, time.Second)
	seconds("scan-interval", f.ScanInterval, &cfg.ScanInterval, time.Second)
	seconds("grace-timeout", f.GraceTimeout, &cfg.GraceTimeout, time.Second)
	seconds("kill-timeout", f.KillTimeout, &cfg.KillTimeout, time.Second)
	seconds("debounce-ms", f.DebounceMS, &cfg.Debounce, time.Millisecond)
}
