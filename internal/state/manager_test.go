package state

import (
	"sync"
	"testing"
	"time"

	"github.com/m-lange/puretools-remote/internal/ha"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	sourceKey = "den.source"
	autoKey   = "den.auto_switching"
)

func newTestManager(t *testing.T, readOnly bool) (*Manager, *ha.MockClient) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	mockClient := ha.NewMockClient()
	require.NoError(t, mockClient.Connect())

	manager := NewManager(mockClient, logger, readOnly)
	require.NoError(t, manager.Register(SelectVariable(sourceKey, "den_source")))
	require.NoError(t, manager.Register(BoolVariable(autoKey, "den_auto_switching")))
	return manager, mockClient
}

func TestManager_RegisterSeedsFromHA(t *testing.T) {
	mockClient := ha.NewMockClient()
	mockClient.SetState("input_boolean.den_auto_switching", "on", nil)
	mockClient.SetState("input_select.den_source", "PS5", map[string]any{
		"options": []any{"HDMI 1", "PS5"},
	})

	manager := NewManager(mockClient, zap.NewNop(), false)
	require.NoError(t, manager.Register(SelectVariable(sourceKey, "den_source")))
	require.NoError(t, manager.Register(BoolVariable(autoKey, "den_auto_switching")))

	on, err := manager.GetBool(autoKey)
	require.NoError(t, err)
	assert.True(t, on)

	source, err := manager.GetSelect(sourceKey)
	require.NoError(t, err)
	assert.Equal(t, "PS5", source)

	options, err := manager.Options(sourceKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"HDMI 1", "PS5"}, options)

	assert.Error(t, manager.Register(BoolVariable(autoKey, "den_auto_switching")), "duplicate key")
}

func TestManager_LookupErrors(t *testing.T) {
	manager, _ := newTestManager(t, false)

	_, err := manager.GetBool("missing")
	assert.ErrorIs(t, err, ErrUnknownVariable)

	_, err = manager.GetBool(sourceKey)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	assert.ErrorIs(t, manager.SetSelect(autoKey, "x"), ErrTypeMismatch)
	assert.ErrorIs(t, manager.SetOptions(autoKey, nil), ErrTypeMismatch)
}

func TestManager_SetPublishesOnlyChanges(t *testing.T) {
	manager, mockClient := newTestManager(t, false)
	mockClient.ClearServiceCalls()

	require.NoError(t, manager.SetSelect(sourceKey, "PS5"))
	require.NoError(t, manager.SetSelect(sourceKey, "PS5"))
	require.NoError(t, manager.SetBool(autoKey, true))
	require.NoError(t, manager.SetBool(autoKey, true))
	require.NoError(t, manager.SetOptions(sourceKey, []string{"A", "B"}))
	require.NoError(t, manager.SetOptions(sourceKey, []string{"A", "B"}))

	calls := mockClient.GetServiceCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, "select_option", calls[0].Service)
	assert.Equal(t, "turn_on", calls[1].Service)
	assert.Equal(t, "set_options", calls[2].Service)
}

func TestManager_SetRollsBackOnError(t *testing.T) {
	manager, mockClient := newTestManager(t, false)
	require.NoError(t, manager.SetSelect(sourceKey, "HDMI 1"))

	mockClient.SetServiceError(assert.AnError)
	err := manager.SetSelect(sourceKey, "HDMI 2")
	assert.ErrorIs(t, err, assert.AnError)

	value, err := manager.GetSelect(sourceKey)
	require.NoError(t, err)
	assert.Equal(t, "HDMI 1", value)

	err = manager.SetOptions(sourceKey, []string{"x"})
	assert.Error(t, err)
	options, _ := manager.Options(sourceKey)
	assert.Empty(t, options)
}

func TestManager_ReadOnlyDoesNotPublish(t *testing.T) {
	manager, mockClient := newTestManager(t, true)
	mockClient.ClearServiceCalls()

	require.NoError(t, manager.SetBool(autoKey, true))
	require.NoError(t, manager.SetSelect(sourceKey, "PS5"))
	require.NoError(t, manager.SetOptions(sourceKey, []string{"PS5"}))

	assert.Empty(t, mockClient.GetServiceCalls())
	on, _ := manager.GetBool(autoKey)
	assert.True(t, on)
}

func TestManager_SubscribersSeeOnlyHAChanges(t *testing.T) {
	manager, mockClient := newTestManager(t, false)

	var mu sync.Mutex
	var seen []any
	sub, err := manager.Subscribe(sourceKey, func(key string, _, newValue any) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, newValue)
	})
	require.NoError(t, err)

	// Our own publish is echoed by HA but matches the cache
	require.NoError(t, manager.SetSelect(sourceKey, "PS5"))

	// A user change in HA
	mockClient.SimulateStateChange("input_select.den_source", "Apple TV")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []any{"Apple TV"}, seen)
	mu.Unlock()

	value, _ := manager.GetSelect(sourceKey)
	assert.Equal(t, "Apple TV", value)

	sub.Unsubscribe()
	mockClient.SimulateStateChange("input_select.den_source", "HDMI 3")
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 1)
}

func TestManager_UnsubscribeKeepsOtherHandlers(t *testing.T) {
	manager, mockClient := newTestManager(t, false)

	var mu sync.Mutex
	count := 0
	first, err := manager.Subscribe(autoKey, func(string, any, any) {})
	require.NoError(t, err)
	_, err = manager.Subscribe(autoKey, func(string, any, any) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	first.Unsubscribe()
	mockClient.SimulateStateChange("input_boolean.den_auto_switching", "on")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 10*time.Millisecond)
}

func TestManager_Unregister(t *testing.T) {
	manager, mockClient := newTestManager(t, false)
	manager.Unregister(sourceKey)

	_, err := manager.GetSelect(sourceKey)
	assert.ErrorIs(t, err, ErrUnknownVariable)

	// Changes to the old helper are ignored
	mockClient.SimulateStateChange("input_select.den_source", "Apple TV")
	assert.NotContains(t, manager.GetAllValues(), sourceKey)

	_, err = manager.Subscribe(sourceKey, func(string, any, any) {})
	assert.ErrorIs(t, err, ErrUnknownVariable)
}

func TestEntityName(t *testing.T) {
	assert.Equal(t, "den_source", entityName("input_select.den_source"))
	assert.Equal(t, "plain", entityName("plain"))
}
