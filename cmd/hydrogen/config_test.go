package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrogen-io/hydrogen/wire"
)

const testConfiguration = `
log:
  level: DEBUG
metrics:
  address: ":9999"
auth:
  tokenExpiration: 2h
  maxFailedAttempts: 7
device:
  commandTimeout: 45s
http:
  address: ":8080"
  allowedOrigins:
    - https://console.observatory.test
  rateLimit: 120
grpc:
  address: ":8090"
  maxMessageSize: 1048576
mqtt:
  enabled: true
  brokerUrl: tcp://broker.observatory.test:1883
  qos: 1
zmq:
  endpoint: tcp://0.0.0.0:5555
`

func writeConfigFile(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "hydrogen.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfiguration), 0o600))
	return path
}

func newTestFlagSet(t *testing.T, arguments ...string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(applicationName, pflag.ContinueOnError)
	flagSet.StringP("file", "f", "", "the configuration file to use, overriding the search path")
	require.NoError(t, flagSet.Parse(arguments))
	return flagSet
}

func TestUnmarshal(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	v, err := newViper(newTestFlagSet(t, "-f", writeConfigFile(t)))
	require.NoError(err)

	config, err := unmarshal(v)
	require.NoError(err)

	assert.Equal("DEBUG", config.Log.Level)
	assert.Equal(":9999", config.Metrics.Address)
	assert.Equal(2*time.Hour, config.Auth.TokenExpiration)
	assert.Equal(7, config.Auth.MaxFailedAttempts)
	assert.Equal(45*time.Second, config.Device.CommandTimeout)
	assert.Equal(":8080", config.HTTP.Address)
	assert.Equal([]string{"https://console.observatory.test"}, config.HTTP.AllowedOrigins)
	assert.Equal(120, config.HTTP.RateLimit)
	assert.Equal(":8090", config.GRPC.Address)
	assert.Equal(1048576, config.GRPC.MaxMessageSize)
	assert.True(config.MQTT.Enabled)
	assert.Equal("tcp://broker.observatory.test:1883", config.MQTT.BrokerURL)
	assert.Equal("tcp://0.0.0.0:5555", config.ZMQ.Endpoint)
}

func TestDefaults(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	v, err := newViper(newTestFlagSet(t))
	require.NoError(err)

	config, err := unmarshal(v)
	require.NoError(err)

	assert.True(config.HTTP.Enabled)
	assert.True(config.GRPC.Enabled)
	assert.False(config.MQTT.Enabled)
	assert.True(config.ZMQ.Enabled)
	assert.Equal(":9395", config.Metrics.Address)
	assert.Equal("INFO", config.Log.Level)
}

func TestMissingConfigFile(t *testing.T) {
	assert := assert.New(t)

	_, err := newViper(newTestFlagSet(t, "-f", "/nonexistent/hydrogen.yaml"))
	assert.Error(err)
}

func TestOptionsMapping(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	v, err := newViper(newTestFlagSet(t, "-f", writeConfigFile(t)))
	require.NoError(err)
	config, err := unmarshal(v)
	require.NoError(err)

	authOptions := config.authOptions()
	assert.Equal(2*time.Hour, authOptions.TokenExpiration)
	assert.Equal(7, authOptions.MaxFailedAttempts)

	deviceOptions := config.deviceOptions()
	assert.Equal(45*time.Second, deviceOptions.CommandTimeout)

	httpOptions := config.httpOptions()
	assert.Equal(":8080", httpOptions.Address)
	assert.Equal(120, httpOptions.RateLimit)

	grpcOptions := config.grpcOptions()
	assert.Equal(":8090", grpcOptions.Address)

	mqttOptions := config.mqttOptions()
	assert.Equal("tcp://broker.observatory.test:1883", mqttOptions.BrokerURL)
	assert.Equal(wire.QOSAtLeastOnce, mqttOptions.QOS)

	zmqOptions := config.zmqOptions()
	assert.Equal("tcp://0.0.0.0:5555", zmqOptions.Endpoint)
}
