package plugin

import (
	"net/http"

	"github.com/m-lange/puretools-remote/internal/clock"
	"github.com/m-lange/puretools-remote/internal/ha"
	"github.com/m-lange/puretools-remote/internal/metrics"
	"github.com/m-lange/puretools-remote/internal/shadowstate"
	"github.com/m-lange/puretools-remote/internal/state"

	"go.uber.org/zap"
)

// Context carries the services shared by all plugins.
type Context struct {
	// HAClient is the Home Assistant connection
	HAClient ha.HAClient

	// StateManager mirrors plugin state into HA helpers
	StateManager *state.Manager

	// Logger is the root logger; plugins use Logger.Named("name")
	Logger *zap.Logger

	// ReadOnly plugins log what they would do instead of doing it
	ReadOnly bool

	// ConfigDir holds the YAML configuration files
	ConfigDir string

	// HTTPClient is the shared connection pool for device requests
	HTTPClient *http.Client

	// Clock drives timers and delays
	Clock clock.Clock

	// Metrics may be nil
	Metrics *metrics.Collector

	// Shadow collects plugin shadow state; may be nil
	Shadow *shadowstate.Tracker
}
