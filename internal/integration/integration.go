// Package integration wires PureTools switchers into the host: connectivity
// probes, the config flow that creates entries, and entry setup that builds
// the client and both entity adapters.
package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/m-lange/puretools-remote/internal/clock"
	"github.com/m-lange/puretools-remote/internal/entity"
	"github.com/m-lange/puretools-remote/internal/puretools"

	"go.uber.org/zap"
)

// Form errors reported by User
const (
	FormErrorBase          = "base"
	FormErrorCannotConnect = "cannot_connect"
)

// Entities is the result of setting up an entry
type Entities struct {
	Entry       Entry
	Client      *puretools.Client
	MediaPlayer *entity.MediaPlayer
	AutoSwitch  *entity.AutoSwitch
}

// Close releases the client's session
func (e *Entities) Close() {
	if e.Client != nil {
		e.Client.Close()
	}
}

// Integration holds what every switcher shares: the HTTP session, the clock
// and the entry store.
type Integration struct {
	sessions puretools.SessionProvider
	clock    clock.Clock
	logger   *zap.Logger
	entries  *Entries
}

// New creates an Integration
func New(sessions puretools.SessionProvider, clk clock.Clock, logger *zap.Logger) *Integration {
	return &Integration{
		sessions: sessions,
		clock:    clk,
		logger:   logger.Named("integration"),
		entries:  NewEntries(),
	}
}

// Entries returns the entry store
func (i *Integration) Entries() *Entries {
	return i.entries
}

// BuildClient creates a device client using the shared session
func (i *Integration) BuildClient(endpoint puretools.Endpoint, opts ...puretools.Option) (*puretools.Client, error) {
	opts = append([]puretools.Option{puretools.WithLogger(i.logger.Named("client"))}, opts...)
	return puretools.NewClient(endpoint, i.sessions, opts...)
}

// BuildEntities creates both adapters for one device
func (i *Integration) BuildEntities(device entity.Device, labels entity.LabelSource) (*entity.MediaPlayer, *entity.AutoSwitch) {
	return entity.NewMediaPlayer(device, labels, i.clock, i.logger),
		entity.NewAutoSwitch(device, i.clock, i.logger)
}

// Probe checks that a switcher answers on host:port
func (i *Integration) Probe(ctx context.Context, host, port string) (puretools.SysInfo, error) {
	client, err := i.BuildClient(puretools.Endpoint{Host: host, Port: port})
	if err != nil {
		return puretools.SysInfo{}, fmt.Errorf("%w: %w", puretools.ErrCannotConnect, err)
	}
	defer client.Close()

	i.logger.Info("Trying to connect to PureTools 4x1 HDMI Switcher",
		zap.String("host", host),
		zap.String("port", port))

	return client.SysInfo(ctx)
}

// SetupEntry probes the entry's device and builds its entities. A device
// that cannot be reached yields ErrNotReady so the caller can retry.
func (i *Integration) SetupEntry(ctx context.Context, entry Entry, opts ...puretools.Option) (*Entities, error) {
	client, err := i.BuildClient(entry.Endpoint(), opts...)
	if err != nil {
		return nil, err
	}

	i.logger.Info("Setting up switcher",
		zap.String("entry", entry.ID),
		zap.String("endpoint", entry.Endpoint().String()))

	if _, err := client.SysInfo(ctx); err != nil {
		client.Close()
		if errors.Is(err, puretools.ErrCannotConnect) {
			i.logger.Error("Connection refused", zap.String("entry", entry.ID), zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
		}
		return nil, err
	}

	player, toggle := i.BuildEntities(client, i.entries.Labels(entry.ID))
	return &Entities{
		Entry:       entry,
		Client:      client,
		MediaPlayer: player,
		AutoSwitch:  toggle,
	}, nil
}

// Input is the data a user (or the YAML import) supplies for a switcher
type Input struct {
	Host    string
	Port    string
	Options entity.InputLabelMap
}

// FlowResult is the outcome of a config flow step. Either Entry is set or
// Errors holds form errors for the user to correct.
type FlowResult struct {
	Entry   *Entry
	Errors  map[string]string
	Updated bool
}

// ValidateInput probes the device and returns the entry title (the model)
func (i *Integration) ValidateInput(ctx context.Context, input Input) (string, error) {
	if strings.TrimSpace(input.Host) == "" {
		return "", fmt.Errorf("%w: host is required", puretools.ErrCannotConnect)
	}
	info, err := i.Probe(ctx, input.Host, input.Port)
	if err != nil {
		i.logger.Error("Probe failed", zap.String("host", input.Host), zap.Error(err))
		return "", err
	}
	return info.Model, nil
}

// User handles a user initiated flow. A failed probe is reported as a form
// error; a host that already has an entry aborts with ErrAlreadyConfigured.
func (i *Integration) User(ctx context.Context, input Input) (FlowResult, error) {
	title, err := i.ValidateInput(ctx, input)
	if err != nil {
		if errors.Is(err, puretools.ErrCannotConnect) {
			return FlowResult{Errors: map[string]string{FormErrorBase: FormErrorCannotConnect}}, nil
		}
		return FlowResult{}, err
	}

	entry := newEntry(title, input)
	if err := i.entries.add(entry); err != nil {
		return FlowResult{}, err
	}
	i.logger.Info("Created config entry", zap.String("entry", entry.ID), zap.String("title", entry.Title))
	return FlowResult{Entry: &entry}, nil
}

// Import handles entries from the configuration file. Unlike User, probe
// failures are returned as errors, and an existing entry for the host gets
// its address updated instead of aborting.
func (i *Integration) Import(ctx context.Context, input Input) (FlowResult, error) {
	title, err := i.ValidateInput(ctx, input)
	if err != nil {
		return FlowResult{}, err
	}

	if updated, ok := i.entries.updateEndpoint(input.Host, input.Host, input.Port); ok {
		i.logger.Info("Updated config entry from import", zap.String("entry", updated.ID))
		return FlowResult{Entry: &updated, Updated: true}, nil
	}

	entry := newEntry(title, input)
	if err := i.entries.add(entry); err != nil {
		return FlowResult{}, err
	}
	i.logger.Info("Imported config entry", zap.String("entry", entry.ID), zap.String("title", entry.Title))
	return FlowResult{Entry: &entry}, nil
}

func newEntry(title string, input Input) Entry {
	options := input.Options.Clone()
	return Entry{
		ID:      input.Host,
		Title:   title,
		Host:    input.Host,
		Port:    input.Port,
		Options: options,
	}
}
