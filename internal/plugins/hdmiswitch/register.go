package hdmiswitch

import (
	"fmt"
	"net/http"
	"time"

	"github.com/m-lange/puretools-remote/internal/clock"
	"github.com/m-lange/puretools-remote/internal/config"
	"github.com/m-lange/puretools-remote/internal/integration"
	"github.com/m-lange/puretools-remote/internal/puretools"
	"github.com/m-lange/puretools-remote/internal/shadowstate"
	"github.com/m-lange/puretools-remote/pkg/plugin"
)

// PluginName is the registry name of the plugin
const PluginName = "hdmiswitch"

const defaultHTTPTimeout = 10 * time.Second

func init() {
	plugin.Register(plugin.PluginInfo{
		Name:        PluginName,
		Description: "PureTools 4x1 HDMI switchers as source select and auto-switching helpers",
		Priority:    plugin.PriorityDefault,
		Order:       50,
		Factory:     createPlugin,
	})
}

// createPlugin builds the manager from hdmi_switchers.yaml in the config dir
func createPlugin(ctx *plugin.Context) (plugin.Plugin, error) {
	if ctx.StateManager == nil {
		return nil, fmt.Errorf("%s plugin requires a state manager", PluginName)
	}

	cfg, err := config.NewLoader(ctx.ConfigDir, ctx.Logger).LoadSwitchers()
	if err != nil {
		return nil, err
	}

	httpClient := ctx.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	clk := ctx.Clock
	if clk == nil {
		clk = clock.NewRealClock()
	}

	integ := integration.New(puretools.StaticSession(httpClient), clk, ctx.Logger)
	manager := NewManager(integ, ctx.StateManager, cfg.Switchers, clk, ctx.Logger, ctx.ReadOnly, ctx.Metrics)

	adapter := &pluginAdapter{manager: manager}
	if ctx.Shadow != nil {
		ctx.Shadow.RegisterPluginProvider(PluginName, adapter.GetShadowState)
	}
	return adapter, nil
}

// pluginAdapter wraps the Manager to implement plugin.Plugin
type pluginAdapter struct {
	manager *Manager
}

func (p *pluginAdapter) Name() string {
	return PluginName
}

func (p *pluginAdapter) Start() error {
	return p.manager.Start()
}

func (p *pluginAdapter) Stop() {
	p.manager.Stop()
}

// Implement plugin.ShadowStateProvider
func (p *pluginAdapter) GetShadowState() shadowstate.PluginShadowState {
	return p.manager.GetShadowState()
}

// GetManager returns the underlying Manager for the API and MQTT bridge
func (p *pluginAdapter) GetManager() *Manager {
	return p.manager
}

// ManagerOf returns the Manager behind a plugin created by this package
func ManagerOf(p plugin.Plugin) (*Manager, bool) {
	adapter, ok := p.(*pluginAdapter)
	if !ok {
		return nil, false
	}
	return adapter.manager, true
}
