// hdmictl talks to a PureTools switcher directly, without Home Assistant.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/m-lange/puretools-remote/internal/clock"
	"github.com/m-lange/puretools-remote/internal/config"
	"github.com/m-lange/puretools-remote/internal/entity"
	"github.com/m-lange/puretools-remote/internal/puretools"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Flags
	flagHost      string
	flagPort      string
	flagSwitcher  string
	flagConfigDir string
	flagTimeout   time.Duration
	flagVerbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "hdmictl",
	Short: "Control a PureTools 4x1 HDMI switcher",
	Long: `hdmictl reads and changes the state of a PureTools 4x1 HDMI switcher
over its HTTP API. The switcher is given by --host/--port or by the id of a
switcher in hdmi_switchers.yaml.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagHost, "host", "", "Switcher host (env: PURETOOLS_HOST)")
	rootCmd.PersistentFlags().StringVar(&flagPort, "port", "", "Switcher port (env: PURETOOLS_PORT, default 80)")
	rootCmd.PersistentFlags().StringVarP(&flagSwitcher, "switcher", "s", "", "Switcher id from hdmi_switchers.yaml")
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "Config directory (env: CONFIG_DIR, default ./configs)")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 10*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log every request")
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	if !flagVerbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func resolveConfigDir() string {
	if flagConfigDir != "" {
		return flagConfigDir
	}
	if v := os.Getenv("CONFIG_DIR"); v != "" {
		return v
	}
	return "./configs"
}

// loadSwitcher returns the named switcher from hdmi_switchers.yaml
func loadSwitcher(id string, logger *zap.Logger) (config.SwitcherConfig, error) {
	cfg, err := config.NewLoader(resolveConfigDir(), logger).LoadSwitchers()
	if err != nil {
		return config.SwitcherConfig{}, err
	}
	for _, sw := range cfg.Switchers {
		if sw.Slug == id {
			return sw, nil
		}
	}
	return config.SwitcherConfig{}, fmt.Errorf("no switcher %q in %s", id, resolveConfigDir())
}

// target is the switcher a command talks to
type target struct {
	endpoint puretools.Endpoint
	session  *http.Client
	client   *puretools.Client
	labels entity.InputLabelMap
	logger *zap.Logger
}

// resolveTarget picks the switcher from --switcher, then --host/--port, then
// the environment. Labels are only known for configured switchers.
func resolveTarget() (*target, error) {
	logger := newLogger()

	var ep puretools.Endpoint
	var labels entity.InputLabelMap
	if flagSwitcher != "" {
		sw, err := loadSwitcher(flagSwitcher, logger)
		if err != nil {
			return nil, err
		}
		ep = puretools.Endpoint{Host: sw.Host, Port: sw.Port}
		labels = sw.Options
	}

	if flagHost != "" {
		ep.Host = flagHost
	} else if ep.Host == "" {
		ep.Host = os.Getenv("PURETOOLS_HOST")
	}
	if flagPort != "" {
		ep.Port = flagPort
	} else if ep.Port == "" {
		ep.Port = os.Getenv("PURETOOLS_PORT")
	}
	if ep.Port == "" {
		ep.Port = config.DefaultPort
	}
	if ep.Host == "" {
		return nil, fmt.Errorf("no switcher given: use --host, --switcher or PURETOOLS_HOST")
	}

	session := &http.Client{Timeout: flagTimeout}
	client, err := puretools.NewClient(ep, puretools.StaticSession(session), puretools.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &target{endpoint: ep, session: session, client: client, labels: labels, logger: logger}, nil
}

func (t *target) mediaPlayer() *entity.MediaPlayer {
	return entity.NewMediaPlayer(t.client, entity.StaticLabels(t.labels), clock.NewRealClock(), t.logger)
}

func (t *target) autoSwitch() *entity.AutoSwitch {
	return entity.NewAutoSwitch(t.client, clock.NewRealClock(), t.logger)
}

func (t *target) close() {
	t.client.Close()
	_ = t.logger.Sync()
}
