package plugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPlugin struct {
	name     string
	startErr error
	events   *[]string
}

func (m *mockPlugin) Name() string { return m.name }

func (m *mockPlugin) Start() error {
	if m.events != nil {
		*m.events = append(*m.events, "start "+m.name)
	}
	return m.startErr
}

func (m *mockPlugin) Stop() {
	if m.events != nil {
		*m.events = append(*m.events, "stop "+m.name)
	}
}

func factoryFor(p *mockPlugin) Factory {
	return func(*Context) (Plugin, error) { return p, nil }
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name        string
		info        PluginInfo
		errContains string
	}{
		{
			name: "valid registration",
			info: PluginInfo{Name: "hdmiswitch", Factory: factoryFor(&mockPlugin{name: "hdmiswitch"})},
		},
		{
			name:        "empty name",
			info:        PluginInfo{Factory: factoryFor(&mockPlugin{})},
			errContains: "name cannot be empty",
		},
		{
			name:        "nil factory",
			info:        PluginInfo{Name: "hdmiswitch"},
			errContains: "factory cannot be nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.info)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRegistry_Priority(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(PluginInfo{
		Name: "hdmiswitch", Description: "default", Factory: factoryFor(&mockPlugin{name: "default"}),
	}))
	require.NoError(t, registry.Register(PluginInfo{
		Name: "hdmiswitch", Description: "override", Priority: PriorityOverride,
		Factory: factoryFor(&mockPlugin{name: "override"}),
	}))
	require.NoError(t, registry.Register(PluginInfo{
		Name: "hdmiswitch", Description: "late default", Factory: factoryFor(&mockPlugin{name: "late"}),
	}))

	info := registry.Get("hdmiswitch")
	require.NotNil(t, info)
	assert.Equal(t, "override", info.Description)
	assert.Equal(t, []string{"hdmiswitch"}, registry.Names())

	p, err := info.Factory(nil)
	require.NoError(t, err)
	assert.Equal(t, "override", p.Name())
}

func TestRegistry_ListOrder(t *testing.T) {
	registry := NewRegistry()
	for _, reg := range []struct {
		name  string
		order int
	}{{"mqtt", 80}, {"hdmiswitch", 0}, {"api", 80}, {"metrics", 10}} {
		require.NoError(t, registry.Register(PluginInfo{
			Name: reg.name, Order: reg.order, Factory: factoryFor(&mockPlugin{name: reg.name}),
		}))
	}

	var names []string
	for _, info := range registry.List() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"metrics", "hdmiswitch", "api", "mqtt"}, names)
	assert.Equal(t, DefaultOrder, registry.Get("hdmiswitch").Order)
}

func TestRegistry_CreateAllStopsOnError(t *testing.T) {
	var events []string
	registry := NewRegistry()
	require.NoError(t, registry.Register(PluginInfo{
		Name: "first", Order: 10, Factory: factoryFor(&mockPlugin{name: "first", events: &events}),
	}))
	require.NoError(t, registry.Register(PluginInfo{
		Name: "second", Order: 20,
		Factory: func(*Context) (Plugin, error) { return nil, errors.New("creation failed") },
	}))

	plugins, err := registry.CreateAll(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create plugin second")
	assert.Nil(t, plugins)
	assert.Equal(t, []string{"stop first"}, events)
}

func TestStartAll(t *testing.T) {
	var events []string
	plugins := []Plugin{
		&mockPlugin{name: "a", events: &events},
		&mockPlugin{name: "b", events: &events},
		&mockPlugin{name: "c", events: &events, startErr: errors.New("boom")},
	}

	err := StartAll(plugins)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start plugin c")
	assert.Equal(t, []string{"start a", "start b", "start c", "stop b", "stop a"}, events)

	events = nil
	require.NoError(t, StartAll(plugins[:2]))
	StopAll(plugins[:2])
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, events)
}

func TestRegistry_Clear(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(PluginInfo{Name: "x", Factory: factoryFor(&mockPlugin{})}))

	registry.Clear()

	assert.Empty(t, registry.Names())
	assert.Nil(t, registry.Get("x"))
}

func TestGlobalRegistry(t *testing.T) {
	ClearGlobal()
	defer ClearGlobal()

	require.NoError(t, Register(PluginInfo{
		Name: "global-test", Description: "global", Factory: factoryFor(&mockPlugin{name: "global"}),
	}))

	require.NotNil(t, Get("global-test"))
	assert.Len(t, List(), 1)
	assert.Contains(t, Names(), "global-test")

	plugins, err := CreateAll(nil)
	require.NoError(t, err)
	require.Len(t, plugins, 1)
	assert.Equal(t, "global", plugins[0].Name())
}
