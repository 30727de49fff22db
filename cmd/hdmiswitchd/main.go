package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-lange/puretools-remote/internal/api"
	"github.com/m-lange/puretools-remote/internal/clock"
	"github.com/m-lange/puretools-remote/internal/config"
	"github.com/m-lange/puretools-remote/internal/ha"
	"github.com/m-lange/puretools-remote/internal/metrics"
	"github.com/m-lange/puretools-remote/internal/mqtt"
	"github.com/m-lange/puretools-remote/internal/plugins/hdmiswitch"
	"github.com/m-lange/puretools-remote/internal/shadowstate"
	"github.com/m-lange/puretools-remote/internal/state"
	"github.com/m-lange/puretools-remote/pkg/plugin"

	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	env, found, err := config.LoadEnv()
	if !found {
		logger.Warn("No .env file found, using environment variables")
	}
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting PureTools Remote",
		zap.String("url", env.HAURL),
		zap.String("config_dir", env.ConfigDir),
		zap.Bool("read_only", env.ReadOnly),
		zap.Bool("mqtt", env.MQTTEnabled()))

	// Create HA client
	client := ha.NewClient(env.HAURL, env.HAToken, logger)
	if err := client.Connect(); err != nil {
		logger.Fatal("Failed to connect to Home Assistant", zap.Error(err))
	}
	defer client.Disconnect()

	logger.Info("Connected to Home Assistant")

	stateManager := state.NewManager(client, logger, env.ReadOnly)
	registry, collector := metrics.NewRegistry()
	tracker := shadowstate.NewTracker()

	plugins, err := plugin.CreateAll(&plugin.Context{
		HAClient:     client,
		StateManager: stateManager,
		Logger:       logger,
		ReadOnly:     env.ReadOnly,
		ConfigDir:    env.ConfigDir,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		Clock:        clock.NewRealClock(),
		Metrics:      collector,
		Shadow:       tracker,
	})
	if err != nil {
		logger.Fatal("Failed to create plugins", zap.Error(err))
	}

	var manager *hdmiswitch.Manager
	for _, p := range plugins {
		if m, ok := hdmiswitch.ManagerOf(p); ok {
			manager = m
		}
	}
	if manager == nil {
		logger.Fatal("HDMI switch plugin is not registered")
	}

	// MQTT bridge is optional
	var broker *mqtt.Client
	if env.MQTTEnabled() {
		topics := mqtt.Topics{Base: mqtt.DefaultBaseTopic, DiscoveryPrefix: env.MQTTDiscoveryPrefix}
		broker, err = mqtt.Connect(mqtt.Options{
			Broker:    env.MQTTBroker,
			ClientID:  env.MQTTClientID,
			Username:  env.MQTTUsername,
			Password:  env.MQTTPassword,
			WillTopic: topics.Status(),
		}, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}

		bridge := mqtt.NewBridge(broker, manager, topics, logger)
		manager.OnUpdate(bridge.HandleUpdate)
		if err := bridge.Start(); err != nil {
			logger.Fatal("Failed to start MQTT bridge", zap.Error(err))
		}
	}

	if err := plugin.StartAll(plugins); err != nil {
		logger.Fatal("Failed to start plugins", zap.Error(err))
	}
	logger.Info("Plugins started", zap.Strings("plugins", plugin.Names()))

	apiServer := api.NewServer(manager, tracker, metrics.Handler(registry), logger, env.APIPort)
	if err := apiServer.Start(); err != nil {
		logger.Fatal("Failed to start HTTP API server", zap.Error(err))
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Application running. Press Ctrl+C to exit.")
	if env.ReadOnly {
		logger.Info("Running in READ-ONLY mode - no changes will be made to Home Assistant or the switchers")
	}

	// Wait for shutdown signal
	<-sigChan

	logger.Info("Shutting down gracefully...")

	if err := apiServer.Stop(); err != nil {
		logger.Error("Failed to stop HTTP API server", zap.Error(err))
	}
	plugin.StopAll(plugins)
	if broker != nil {
		broker.Close()
	}
}
