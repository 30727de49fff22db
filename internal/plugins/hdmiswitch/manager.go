// Package hdmiswitch runs every configured PureTools switcher: it sets up
// entries, polls them, mirrors their state into Home Assistant helpers and
// turns helper changes into device commands.
package hdmiswitch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/m-lange/puretools-remote/internal/clock"
	"github.com/m-lange/puretools-remote/internal/config"
	"github.com/m-lange/puretools-remote/internal/entity"
	"github.com/m-lange/puretools-remote/internal/integration"
	"github.com/m-lange/puretools-remote/internal/metrics"
	"github.com/m-lange/puretools-remote/internal/puretools"
	"github.com/m-lange/puretools-remote/internal/shadowstate"
	"github.com/m-lange/puretools-remote/internal/state"

	"go.uber.org/zap"
)

var (
	ErrUnknownSwitcher = errors.New("unknown switcher")
	ErrReadOnlyMode    = errors.New("read-only mode")
)

const (
	InitialSetupBackoff = time.Second
	MaxSetupBackoff     = 5 * time.Minute

	// requestTimeout bounds one command or poll including its settle delay
	requestTimeout = 15 * time.Second

	// optionsSettle is how long select changes from HA are ignored after the
	// option list was replaced, since HA resets the selection on set_options
	optionsSettle = 2 * time.Second
)

// Command names used for metrics
const (
	CommandSelectSource  = "select_source"
	CommandAutoSwitching = "set_auto_switching"
)

// Status is the externally visible state of one switcher
type Status struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Host        string                  `json:"host"`
	Port        string                  `json:"port"`
	Ready       bool                    `json:"ready"`
	Labels      entity.InputLabelMap    `json:"labels"`
	MediaPlayer entity.MediaPlayerState `json:"media_player"`
	AutoSwitch  entity.AutoSwitchState  `json:"auto_switch"`
}

// UpdateListener is called after a switcher's state was published
type UpdateListener func(status Status)

type switcher struct {
	cfg config.SwitcherConfig

	// io serializes device calls
	io sync.Mutex

	// guarded by Manager.mu
	entities      *integration.Entities
	timer         clock.Timer
	suppressUntil time.Time
}

func (s *switcher) sourceKey() string { return s.cfg.Slug + ".source" }
func (s *switcher) autoKey() string   { return s.cfg.Slug + ".auto_switching" }

// Manager owns the switchers
type Manager struct {
	integration  *integration.Integration
	stateManager *state.Manager
	clock        clock.Clock
	logger       *zap.Logger
	readOnly     bool
	metrics      *metrics.Collector
	shadow       *shadowstate.HDMISwitchTracker

	mu        sync.RWMutex
	switchers map[string]*switcher
	order     []string
	listeners []UpdateListener
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stateSubscriptions []state.Subscription
}

// NewManager creates a manager for the given switchers. collector may be nil.
func NewManager(
	integ *integration.Integration,
	stateManager *state.Manager,
	switchers []config.SwitcherConfig,
	clk clock.Clock,
	logger *zap.Logger,
	readOnly bool,
	collector *metrics.Collector,
) *Manager {
	m := &Manager{
		integration:  integ,
		stateManager: stateManager,
		clock:        clk,
		logger:       logger.Named("hdmiswitch"),
		readOnly:     readOnly,
		metrics:      collector,
		shadow:       shadowstate.NewHDMISwitchTracker(clk.Now),
		switchers:    make(map[string]*switcher, len(switchers)),
	}
	for _, cfg := range switchers {
		cfg.Options = cfg.Options.Clone()
		m.switchers[cfg.Slug] = &switcher{cfg: cfg}
		m.order = append(m.order, cfg.Slug)
	}
	sort.Strings(m.order)
	return m
}

// OnUpdate registers a listener for published state
func (m *Manager) OnUpdate(listener UpdateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// Start registers the HA helpers and begins setting up the switchers in the
// background.
func (m *Manager) Start() error {
	m.logger.Info("Starting HDMI switch manager",
		zap.Int("switchers", len(m.order)),
		zap.Bool("read_only", m.readOnly))

	m.ctx, m.cancel = context.WithCancel(context.Background())

	for _, id := range m.order {
		sw := m.switchers[id]
		if err := m.registerHelpers(sw); err != nil {
			m.Stop()
			return err
		}
	}

	m.integration.Entries().OnOptionsChanged(m.handleOptionsChanged)

	for _, id := range m.order {
		sw := m.switchers[id]
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.setup(sw, InitialSetupBackoff)
		}()
	}
	return nil
}

// Stop cancels timers and in-flight requests and releases all devices
func (m *Manager) Stop() {
	m.logger.Info("Stopping HDMI switch manager")

	m.mu.Lock()
	m.stopped = true
	var closing []*integration.Entities
	for _, sw := range m.switchers {
		if sw.timer != nil {
			sw.timer.Stop()
			sw.timer = nil
		}
		if sw.entities != nil {
			closing = append(closing, sw.entities)
			sw.entities = nil
		}
	}
	subs := m.stateSubscriptions
	m.stateSubscriptions = nil
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	for _, e := range closing {
		e.Close()
	}
	for _, id := range m.order {
		m.metrics.Forget(id)
	}
}

func (m *Manager) registerHelpers(sw *switcher) error {
	slug := sw.cfg.Slug
	vars := []state.Variable{
		state.SelectVariable(sw.sourceKey(), slug+"_source"),
		state.BoolVariable(sw.autoKey(), slug+"_auto_switching"),
	}
	for _, v := range vars {
		if err := m.stateManager.Register(v); err != nil {
			return fmt.Errorf("failed to register %s: %w", v.EntityID, err)
		}
	}

	sourceSub, err := m.stateManager.Subscribe(sw.sourceKey(), m.handleSourceChange(sw))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", sw.sourceKey(), err)
	}
	autoSub, err := m.stateManager.Subscribe(sw.autoKey(), m.handleAutoChange(sw))
	if err != nil {
		sourceSub.Unsubscribe()
		return fmt.Errorf("failed to subscribe to %s: %w", sw.autoKey(), err)
	}

	m.mu.Lock()
	m.stateSubscriptions = append(m.stateSubscriptions, sourceSub, autoSub)
	m.mu.Unlock()
	return nil
}

// setup imports and sets up one switcher, rescheduling itself with
// exponential backoff while the device cannot be reached.
func (m *Manager) setup(sw *switcher, backoff time.Duration) {
	if m.isStopped() {
		return
	}
	id := sw.cfg.Slug

	ctx, cancel := context.WithTimeout(m.ctx, requestTimeout)
	entities, err := m.connect(ctx, sw)
	cancel()

	if err != nil {
		m.metrics.SetPollResult(id, false)
		m.shadow.RecordAction(id, shadowstate.ActionSetupFailed, err.Error(), map[string]any{
			"host":     sw.cfg.Host,
			"retry_in": backoff.String(),
		})
		if !errors.Is(err, puretools.ErrCannotConnect) {
			m.logger.Error("Switcher setup failed", zap.String("switcher", id), zap.Error(err))
			return
		}
		m.logger.Warn("Switcher not ready, retrying",
			zap.String("switcher", id),
			zap.Duration("retry_in", backoff),
			zap.Error(err))

		m.mu.Lock()
		if !m.stopped {
			next := min(backoff*2, MaxSetupBackoff)
			sw.timer = m.clock.AfterFunc(backoff, func() { m.setup(sw, next) })
		}
		m.mu.Unlock()
		return
	}

	entities.MediaPlayer.OnIgnoredSource(func(label string) {
		m.shadow.RecordAction(id, shadowstate.ActionIgnoredSource, "no input matches label", map[string]any{
			"source": label,
		})
	})

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		entities.Close()
		return
	}
	sw.entities = entities
	sw.timer = nil
	m.mu.Unlock()

	m.logger.Info("Switcher ready",
		zap.String("switcher", id),
		zap.String("model", entities.Entry.Title),
		zap.String("endpoint", entities.Entry.Endpoint().String()))

	m.poll(sw)
}

// connect creates the entry on first use, then sets it up
func (m *Manager) connect(ctx context.Context, sw *switcher) (*integration.Entities, error) {
	entries := m.integration.Entries()
	entry, ok := entries.Get(sw.cfg.Host)
	if !ok {
		m.mu.RLock()
		input := integration.Input{Host: sw.cfg.Host, Port: sw.cfg.Port, Options: sw.cfg.Options.Clone()}
		m.mu.RUnlock()

		result, err := m.integration.Import(ctx, input)
		if err != nil {
			return nil, err
		}
		entry = *result.Entry
	}
	return m.integration.SetupEntry(ctx, entry, puretools.WithRequestHook(m.metrics.RequestHook(sw.cfg.Slug)))
}

// poll refreshes both entities, publishes and schedules the next poll
func (m *Manager) poll(sw *switcher) {
	entities := m.entitiesOf(sw)
	if entities == nil || m.isStopped() {
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, requestTimeout)
	err := m.refresh(ctx, sw, entities)
	cancel()

	if err != nil {
		m.logger.Warn("Poll failed", zap.String("switcher", sw.cfg.Slug), zap.Error(err))
	}
	m.publish(sw, entities)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if sw.timer != nil {
		sw.timer.Stop()
	}
	sw.timer = m.clock.AfterFunc(sw.cfg.PollInterval, func() { m.poll(sw) })
}

func (m *Manager) refresh(ctx context.Context, sw *switcher, entities *integration.Entities) error {
	sw.io.Lock()
	defer sw.io.Unlock()

	err := errors.Join(
		entities.MediaPlayer.Refresh(ctx),
		entities.AutoSwitch.Refresh(ctx),
	)
	m.metrics.SetPollResult(sw.cfg.Slug, err == nil)
	return err
}

// publish mirrors entity state into HA, metrics, shadow state and listeners
func (m *Manager) publish(sw *switcher, entities *integration.Entities) {
	id := sw.cfg.Slug
	player := entities.MediaPlayer.State()
	toggle := entities.AutoSwitch.State()

	current, _ := m.stateManager.Options(sw.sourceKey())
	if !slices.Equal(current, player.SourceList) {
		m.mu.Lock()
		sw.suppressUntil = m.clock.Now().Add(optionsSettle)
		m.mu.Unlock()
	}
	if err := m.stateManager.SetOptions(sw.sourceKey(), player.SourceList); err != nil {
		m.logger.Warn("Failed to publish source list", zap.String("switcher", id), zap.Error(err))
	}
	if player.Source != "" {
		if err := m.stateManager.SetSelect(sw.sourceKey(), player.Source); err != nil {
			m.logger.Warn("Failed to publish source", zap.String("switcher", id), zap.Error(err))
		}
	}
	if toggle.Available {
		if err := m.stateManager.SetBool(sw.autoKey(), toggle.IsOn); err != nil {
			m.logger.Warn("Failed to publish auto-switching", zap.String("switcher", id), zap.Error(err))
		}
	}

	if player.Available {
		input, _ := m.integration.Entries().Labels(entities.Entry.ID)().Resolve(player.Source)
		m.metrics.SetDeviceState(id, input, player.AutoModeActive)
	}

	m.shadow.UpdateDeviceInputs(id, map[string]any{
		"model":      player.DeviceInfo.Model,
		"sw_version": player.DeviceInfo.SWVersion,
		"source":     player.Source,
		"auto":       player.AutoModeActive,
		"available":  player.Available,
	})
	m.shadow.UpdateDeviceOutputs(id, player.Source, toggle.IsOn, player.Available)

	status := m.status(sw)
	m.mu.RLock()
	listeners := append([]UpdateListener(nil), m.listeners...)
	m.mu.RUnlock()
	for _, listener := range listeners {
		listener(status)
	}
}

func (m *Manager) handleSourceChange(sw *switcher) state.StateChangeHandler {
	return func(key string, _, newValue any) {
		label, _ := newValue.(string)
		if label == "" {
			return
		}

		m.mu.RLock()
		suppressed := m.clock.Now().Before(sw.suppressUntil)
		entities := sw.entities
		m.mu.RUnlock()

		if suppressed {
			m.logger.Debug("Ignoring source change after option update",
				zap.String("switcher", sw.cfg.Slug),
				zap.String("source", label))
			if entities != nil {
				m.publish(sw, entities)
			}
			return
		}

		m.logger.Info("Source selected in Home Assistant",
			zap.String("switcher", sw.cfg.Slug),
			zap.String("source", label))
		if _, err := m.SelectSource(m.ctx, sw.cfg.Slug, label); err != nil && !errors.Is(err, ErrReadOnlyMode) {
			m.logger.Error("Failed to select source", zap.String("switcher", sw.cfg.Slug), zap.Error(err))
		}
	}
}

func (m *Manager) handleAutoChange(sw *switcher) state.StateChangeHandler {
	return func(key string, _, newValue any) {
		on, _ := newValue.(bool)

		m.logger.Info("Auto-switching changed in Home Assistant",
			zap.String("switcher", sw.cfg.Slug),
			zap.Bool("on", on))
		if _, err := m.SetAutoSwitching(m.ctx, sw.cfg.Slug, on); err != nil && !errors.Is(err, ErrReadOnlyMode) {
			m.logger.Error("Failed to set auto-switching", zap.String("switcher", sw.cfg.Slug), zap.Error(err))
		}
	}
}

func (m *Manager) handleOptionsChanged(entry integration.Entry) {
	for _, id := range m.order {
		sw := m.switchers[id]
		if sw.cfg.Host != entry.Host {
			continue
		}
		m.mu.Lock()
		sw.cfg.Options = entry.Options.Clone()
		m.mu.Unlock()

		if entities := m.entitiesOf(sw); entities != nil {
			m.publish(sw, entities)
		}
	}
}

// SelectSource selects the input whose label matches. A label that matches
// no input is recorded and ignored.
func (m *Manager) SelectSource(ctx context.Context, id, label string) (Status, error) {
	sw, entities, err := m.ready(id)
	if err != nil {
		return Status{}, err
	}

	details := map[string]any{"source": label}
	if m.readOnly {
		m.logger.Info("Read-only: not selecting source",
			zap.String("switcher", id),
			zap.String("source", label))
		m.shadow.RecordAction(id, shadowstate.ActionReadOnly, CommandSelectSource, details)
		m.metrics.CountCommand(id, CommandSelectSource, metrics.ResultReadOnly)
		return m.status(sw), ErrReadOnlyMode
	}

	_, matched := m.integration.Entries().Labels(entities.Entry.ID)().Resolve(label)

	// A started command sequence is not cut short by the caller going away
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requestTimeout)
	defer cancel()

	sw.io.Lock()
	err = entities.MediaPlayer.SelectSource(ctx, label)
	if err == nil && matched {
		// Selecting may have turned auto-switching off
		err = entities.AutoSwitch.Refresh(ctx)
	}
	sw.io.Unlock()

	switch {
	case !matched:
		m.metrics.CountCommand(id, CommandSelectSource, metrics.ResultIgnored)
	case err != nil:
		m.metrics.CountCommand(id, CommandSelectSource, metrics.ResultOf(err))
	default:
		m.metrics.CountCommand(id, CommandSelectSource, metrics.ResultOK)
		m.shadow.RecordAction(id, shadowstate.ActionSelectSource, "source selected", details)
	}

	m.publish(sw, entities)
	if err != nil {
		return m.status(sw), fmt.Errorf("switcher %s: %w", id, err)
	}
	return m.status(sw), nil
}

// SetAutoSwitching turns the device's auto-switching mode on or off
func (m *Manager) SetAutoSwitching(ctx context.Context, id string, on bool) (Status, error) {
	sw, entities, err := m.ready(id)
	if err != nil {
		return Status{}, err
	}

	details := map[string]any{"on": on}
	if m.readOnly {
		m.logger.Info("Read-only: not changing auto-switching",
			zap.String("switcher", id),
			zap.Bool("on", on))
		m.shadow.RecordAction(id, shadowstate.ActionReadOnly, CommandAutoSwitching, details)
		m.metrics.CountCommand(id, CommandAutoSwitching, metrics.ResultReadOnly)
		return m.status(sw), ErrReadOnlyMode
	}

	// A started command sequence is not cut short by the caller going away
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requestTimeout)
	defer cancel()

	sw.io.Lock()
	if on {
		err = entities.AutoSwitch.TurnOn(ctx)
	} else {
		err = entities.AutoSwitch.TurnOff(ctx)
	}
	sw.io.Unlock()

	m.metrics.CountCommand(id, CommandAutoSwitching, metrics.ResultOf(err))
	if err == nil {
		m.shadow.RecordAction(id, shadowstate.ActionAutoSwitching, "auto-switching changed", details)
		// The media player keeps its own copy of the auto flag
		sw.io.Lock()
		err = entities.MediaPlayer.Refresh(ctx)
		sw.io.Unlock()
	}

	m.publish(sw, entities)
	if err != nil {
		return m.status(sw), fmt.Errorf("switcher %s: %w", id, err)
	}
	return m.status(sw), nil
}

// UpdateOptions replaces the input labels of a switcher. For a switcher
// that is not set up yet the labels are used when it is.
func (m *Manager) UpdateOptions(id string, labels entity.InputLabelMap) (Status, error) {
	sw, ok := m.switchers[id]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownSwitcher, id)
	}
	if err := labels.Validate(); err != nil {
		return Status{}, err
	}

	_, err := m.integration.Entries().UpdateOptions(sw.cfg.Host, labels)
	switch {
	case errors.Is(err, integration.ErrUnknownEntry):
		m.mu.Lock()
		sw.cfg.Options = labels.Clone()
		m.mu.Unlock()
	case err != nil:
		return Status{}, err
	}

	details := make(map[string]any, len(labels))
	for k, v := range labels {
		details[k] = v
	}
	m.shadow.RecordAction(id, shadowstate.ActionOptions, "labels updated", details)
	m.logger.Info("Input labels updated", zap.String("switcher", id), zap.Any("labels", labels))

	return m.status(sw), nil
}

// Device returns the status of one switcher
func (m *Manager) Device(id string) (Status, error) {
	sw, ok := m.switchers[id]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownSwitcher, id)
	}
	return m.status(sw), nil
}

// Devices returns the status of every switcher, sorted by id
func (m *Manager) Devices() []Status {
	out := make([]Status, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.status(m.switchers[id]))
	}
	return out
}

// GetShadowState returns the plugin's shadow state
func (m *Manager) GetShadowState() *shadowstate.HDMISwitchShadowState {
	return m.shadow.GetState()
}

func (m *Manager) status(sw *switcher) Status {
	m.mu.RLock()
	cfg := sw.cfg
	cfg.Options = cfg.Options.Clone()
	entities := sw.entities
	m.mu.RUnlock()

	st := Status{
		ID:     cfg.Slug,
		Name:   cfg.Name,
		Host:   cfg.Host,
		Port:   cfg.Port,
		Labels: cfg.Options,
	}
	if entities != nil {
		st.Ready = true
		st.MediaPlayer = entities.MediaPlayer.State()
		st.AutoSwitch = entities.AutoSwitch.State()
	}
	if st.Name == "" {
		st.Name = cfg.Slug
	}
	return st
}

// ready returns a switcher that has been set up
func (m *Manager) ready(id string) (*switcher, *integration.Entities, error) {
	sw, ok := m.switchers[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownSwitcher, id)
	}
	entities := m.entitiesOf(sw)
	if entities == nil {
		return nil, nil, fmt.Errorf("switcher %s: %w", id, integration.ErrNotReady)
	}
	return sw, entities, nil
}

func (m *Manager) entitiesOf(sw *switcher) *integration.Entities {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sw.entities
}

func (m *Manager) isStopped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopped
}
