// Package config loads the switcher list from hdmi_switchers.yaml and the
// service settings from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/m-lange/puretools-remote/internal/entity"
	"github.com/m-lange/puretools-remote/internal/puretools"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	SwitchersFile       = "hdmi_switchers.yaml"
	DefaultPort         = "80"
	DefaultPollInterval = 10 * time.Second
	MinPollInterval     = time.Second
)

// SwitcherConfig is one switcher entry in hdmi_switchers.yaml
type SwitcherConfig struct {
	Name         string               `yaml:"name"`
	Slug         string               `yaml:"slug"`
	Host         string               `yaml:"host"`
	Port         string               `yaml:"port"`
	PollInterval time.Duration        `yaml:"poll_interval"`
	Options      entity.InputLabelMap `yaml:"options"`
}

// SwitchersConfig is the hdmi_switchers.yaml structure
type SwitchersConfig struct {
	Switchers []SwitcherConfig `yaml:"switchers"`
}

// Loader reads configuration files from a directory
type Loader struct {
	configDir string
	logger    *zap.Logger
}

// NewLoader creates a new configuration loader
func NewLoader(configDir string, logger *zap.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger.Named("config"),
	}
}

// SwitchersPath returns the path of hdmi_switchers.yaml
func (l *Loader) SwitchersPath() string {
	return filepath.Join(l.configDir, SwitchersFile)
}

// LoadSwitchers reads, defaults and validates hdmi_switchers.yaml
func (l *Loader) LoadSwitchers() (*SwitchersConfig, error) {
	path := l.SwitchersPath()
	l.logger.Debug("Loading switcher config", zap.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read switcher config: %w", err)
	}

	cfg, err := ParseSwitchers(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	l.logger.Info("Switcher config loaded", zap.Int("switchers", len(cfg.Switchers)))
	return cfg, nil
}

// ParseSwitchers decodes and validates a switcher config document
func ParseSwitchers(data []byte) (*SwitchersConfig, error) {
	var cfg SwitchersConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse switcher config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *SwitchersConfig) normalize() error {
	hosts := make(map[string]bool)
	slugs := make(map[string]bool)

	for i := range c.Switchers {
		sw := &c.Switchers[i]

		sw.Host = strings.TrimSpace(sw.Host)
		if sw.Host == "" {
			return fmt.Errorf("switcher %d: host is required", i)
		}
		if hosts[sw.Host] {
			return fmt.Errorf("switcher %d: duplicate host %s", i, sw.Host)
		}
		hosts[sw.Host] = true

		sw.Port = strings.TrimSpace(sw.Port)
		if sw.Port == "" {
			sw.Port = DefaultPort
		}
		if err := puretools.ValidatePort(sw.Port); err != nil {
			return fmt.Errorf("switcher %s: %w", sw.Host, err)
		}

		if sw.Slug == "" {
			if sw.Name != "" {
				sw.Slug = Slugify(sw.Name)
			} else {
				sw.Slug = Slugify(sw.Host)
			}
		}
		if sw.Slug != Slugify(sw.Slug) {
			return fmt.Errorf("switcher %s: slug %q must be lower case letters, digits and underscores", sw.Host, sw.Slug)
		}
		if slugs[sw.Slug] {
			return fmt.Errorf("switcher %s: duplicate slug %s", sw.Host, sw.Slug)
		}
		slugs[sw.Slug] = true

		switch {
		case sw.PollInterval == 0:
			sw.PollInterval = DefaultPollInterval
		case sw.PollInterval < MinPollInterval:
			return fmt.Errorf("switcher %s: poll_interval %s is below %s", sw.Host, sw.PollInterval, MinPollInterval)
		}

		if err := sw.Options.Validate(); err != nil {
			return fmt.Errorf("switcher %s: %w", sw.Host, err)
		}
	}
	return nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a name into an entity id fragment ("Living Room" -> "living_room")
func Slugify(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "_"), "_")
}
