// Command hydrogen runs the multi-protocol device gateway: HTTP/WebSocket,
// gRPC, MQTT, and ZeroMQ surfaces over shared auth and device services.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/pflag"

	"github.com/hydrogen-io/hydrogen/auth"
	"github.com/hydrogen-io/hydrogen/device"
	"github.com/hydrogen-io/hydrogen/logging"
	"github.com/hydrogen-io/hydrogen/protocol/grpcserver"
	"github.com/hydrogen-io/hydrogen/protocol/httpserver"
	"github.com/hydrogen-io/hydrogen/protocol/mqttserver"
	"github.com/hydrogen-io/hydrogen/protocol/multiserver"
	"github.com/hydrogen-io/hydrogen/protocol/zmqserver"
	"github.com/hydrogen-io/hydrogen/service"
	"github.com/hydrogen-io/hydrogen/xmetrics"
)

const (
	applicationName = "hydrogen"
	release         = "1.0.0"
)

const shutdownTimeout = 30 * time.Second

func hydrogen(arguments []string) int {
	flagSet := pflag.NewFlagSet(applicationName, pflag.ContinueOnError)
	flagSet.StringP("file", "f", "", "the configuration file to use, overriding the search path")
	flagSet.BoolP("version", "v", false, "print the version and exit")
	if err := flagSet.Parse(arguments); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if printVersion, _ := flagSet.GetBool("version"); printVersion {
		fmt.Printf("%s %s\n", applicationName, release)
		return 0
	}

	v, err := newViper(flagSet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to load configuration: %s\n", err)
		return 1
	}

	config, err := unmarshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to decode configuration: %s\n", err)
		return 1
	}

	logger := logging.New(&config.Log)
	logger.Log(level.Key(), level.InfoValue(), logging.MessageKey(), "starting", "version", release)

	metricsRegistry, err := xmetrics.NewRegistry(nil)
	if err != nil {
		logger.Log(level.Key(), level.ErrorValue(), logging.MessageKey(), "unable to create metrics registry", logging.ErrorKey(), err)
		return 1
	}

	authOptions := config.authOptions()
	authOptions.Logger = logger
	authManager := auth.NewManager(authOptions)

	deviceOptions := config.deviceOptions()
	deviceOptions.Logger = logger
	deviceOptions.ConnectedGauge = metricsRegistry.NewGauge("devices_connected")
	deviceOptions.DisconnectedGauge = metricsRegistry.NewGauge("devices_disconnected")
	deviceOptions.CommandCounter = metricsRegistry.NewCounter("device_commands_total")
	deviceManager := device.NewManager(deviceOptions)

	servers := multiserver.NewManager(logger)
	if config.HTTP.Enabled {
		httpOptions := config.httpOptions()
		httpOptions.Logger = logger
		httpOptions.Auth = authManager
		httpOptions.Devices = deviceManager
		if err := servers.Manage(httpserver.New(httpOptions)); err != nil {
			logger.Log(level.Key(), level.ErrorValue(), logging.MessageKey(), "unable to manage http server", logging.ErrorKey(), err)
			return 1
		}
	}

	if config.GRPC.Enabled {
		grpcOptions := config.grpcOptions()
		grpcOptions.Logger = logger
		grpcOptions.Auth = authManager
		grpcOptions.Devices = deviceManager
		if err := servers.Manage(grpcserver.New(grpcOptions)); err != nil {
			logger.Log(level.Key(), level.ErrorValue(), logging.MessageKey(), "unable to manage grpc server", logging.ErrorKey(), err)
			return 1
		}
	}

	if config.MQTT.Enabled {
		mqttOptions := config.mqttOptions()
		mqttOptions.Logger = logger
		if err := servers.Manage(mqttserver.New(mqttOptions)); err != nil {
			logger.Log(level.Key(), level.ErrorValue(), logging.MessageKey(), "unable to manage mqtt bridge", logging.ErrorKey(), err)
			return 1
		}
	}

	if config.ZMQ.Enabled {
		zmqOptions := config.zmqOptions()
		zmqOptions.Logger = logger
		if err := servers.Manage(zmqserver.New(zmqOptions)); err != nil {
			logger.Log(level.Key(), level.ErrorValue(), logging.MessageKey(), "unable to manage zmq server", logging.ErrorKey(), err)
			return 1
		}
	}

	registry := service.NewRegistry(logger)
	for _, s := range []service.Service{authManager, deviceManager, servers} {
		if err := registry.Register(s); err != nil {
			logger.Log(level.Key(), level.ErrorValue(), logging.MessageKey(), "unable to register service", "service", s.Name(), logging.ErrorKey(), err)
			return 1
		}
	}

	startCtx := context.Background()
	if err := registry.InitializeAll(startCtx); err != nil {
		logger.Log(level.Key(), level.ErrorValue(), logging.MessageKey(), "initialization failed", logging.ErrorKey(), err)
		return 2
	}

	if err := registry.StartAll(startCtx); err != nil {
		logger.Log(level.Key(), level.ErrorValue(), logging.MessageKey(), "startup failed", logging.ErrorKey(), err)
		shutdown(registry, logger)
		return 2
	}

	metricsServer := startMetricsServer(config.Metrics.Address, metricsRegistry, logger)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	received := <-signals
	logger.Log(level.Key(), level.InfoValue(), logging.MessageKey(), "shutting down", "signal", received.String())

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		metricsServer.Shutdown(shutdownCtx)
		cancel()
	}

	shutdown(registry, logger)
	return 0
}

func shutdown(registry *service.Registry, logger log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := registry.StopAll(ctx); err != nil {
		logger.Log(level.Key(), level.ErrorValue(), logging.MessageKey(), "shutdown completed with errors", logging.ErrorKey(), err)
	}
}

// startMetricsServer exposes the prometheus scrape endpoint on its own
// listener.  An empty address disables it.
func startMetricsServer(address string, registry *xmetrics.Registry, logger log.Logger) *http.Server {
	if len(address) == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	server := &http.Server{Addr: address, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log(level.Key(), level.ErrorValue(), logging.MessageKey(), "metrics server exited", logging.ErrorKey(), err)
		}
	}()

	logger.Log(level.Key(), level.InfoValue(), logging.MessageKey(), "metrics server started", "address", address)
	return server
}

func main() {
	os.Exit(hydrogen(os.Args[1:]))
}
