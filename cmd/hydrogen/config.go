package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hydrogen-io/hydrogen/auth"
	"github.com/hydrogen-io/hydrogen/device"
	"github.com/hydrogen-io/hydrogen/logging"
	"github.com/hydrogen-io/hydrogen/protocol/grpcserver"
	"github.com/hydrogen-io/hydrogen/protocol/httpserver"
	"github.com/hydrogen-io/hydrogen/protocol/mqttserver"
	"github.com/hydrogen-io/hydrogen/protocol/zmqserver"
	"github.com/hydrogen-io/hydrogen/wire"
)

// Config is the full configuration tree, decoded from viper.
type Config struct {
	Log logging.Options `mapstructure:"log"`

	Metrics struct {
		Address string `mapstructure:"address"`
	} `mapstructure:"metrics"`

	Auth struct {
		TokenExpiration     time.Duration `mapstructure:"tokenExpiration"`
		SessionTimeout      time.Duration `mapstructure:"sessionTimeout"`
		MaxFailedAttempts   int           `mapstructure:"maxFailedAttempts"`
		LockoutDuration     time.Duration `mapstructure:"lockoutDuration"`
		RateLimit           int           `mapstructure:"rateLimit"`
		DisableDefaultAdmin bool          `mapstructure:"disableDefaultAdmin"`
	} `mapstructure:"auth"`

	Device struct {
		HealthCheckInterval time.Duration `mapstructure:"healthCheckInterval"`
		CommandTimeout      time.Duration `mapstructure:"commandTimeout"`
	} `mapstructure:"device"`

	HTTP struct {
		Enabled          bool              `mapstructure:"enabled"`
		Address          string            `mapstructure:"address"`
		CertificateFile  string            `mapstructure:"certificateFile"`
		KeyFile          string            `mapstructure:"keyFile"`
		AllowedOrigins   []string          `mapstructure:"allowedOrigins"`
		RateLimit        int               `mapstructure:"rateLimit"`
		HandshakeTimeout time.Duration     `mapstructure:"handshakeTimeout"`
		WriteTimeout     time.Duration     `mapstructure:"writeTimeout"`
		Extra            map[string]string `mapstructure:"extra"`
	} `mapstructure:"http"`

	GRPC struct {
		Enabled         bool   `mapstructure:"enabled"`
		Address         string `mapstructure:"address"`
		CertificateFile string `mapstructure:"certificateFile"`
		KeyFile         string `mapstructure:"keyFile"`
		MaxMessageSize  int    `mapstructure:"maxMessageSize"`
	} `mapstructure:"grpc"`

	MQTT struct {
		Enabled   bool   `mapstructure:"enabled"`
		BrokerURL string `mapstructure:"brokerUrl"`
		ClientID  string `mapstructure:"clientId"`
		Username  string `mapstructure:"username"`
		Password  string `mapstructure:"password"`
		QOS       int    `mapstructure:"qos"`
	} `mapstructure:"mqtt"`

	ZMQ struct {
		Enabled  bool   `mapstructure:"enabled"`
		Endpoint string `mapstructure:"endpoint"`
	} `mapstructure:"zmq"`
}

// newViper builds the viper instance: flags, environment, optional file.
func newViper(flagSet *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(strings.ToUpper(applicationName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.enabled", true)
	v.SetDefault("grpc.enabled", true)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("zmq.enabled", true)
	v.SetDefault("metrics.address", ":9395")
	v.SetDefault("log.file", logging.StdoutFile)
	v.SetDefault("log.level", "INFO")

	if file, _ := flagSet.GetString("file"); len(file) > 0 {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}

		return v, nil
	}

	v.SetConfigName(applicationName)
	v.AddConfigPath(".")
	v.AddConfigPath(fmt.Sprintf("/etc/%s", applicationName))
	v.AddConfigPath(fmt.Sprintf("$HOME/.%s", applicationName))
	if err := v.ReadInConfig(); err != nil {
		// a config file is optional; defaults and environment suffice
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return v, nil
}

// unmarshal decodes the viper tree into Config with duration parsing.
func unmarshal(v *viper.Viper) (*Config, error) {
	config := new(Config)
	err := v.Unmarshal(config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))

	if err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) authOptions() *auth.Options {
	return &auth.Options{
		TokenExpiration:     c.Auth.TokenExpiration,
		SessionTimeout:      c.Auth.SessionTimeout,
		MaxFailedAttempts:   c.Auth.MaxFailedAttempts,
		LockoutDuration:     c.Auth.LockoutDuration,
		RateLimit:           c.Auth.RateLimit,
		DisableDefaultAdmin: c.Auth.DisableDefaultAdmin,
	}
}

func (c *Config) deviceOptions() *device.Options {
	return &device.Options{
		HealthCheckInterval: c.Device.HealthCheckInterval,
		CommandTimeout:      c.Device.CommandTimeout,
	}
}

func (c *Config) httpOptions() *httpserver.Options {
	return &httpserver.Options{
		Address:          c.HTTP.Address,
		CertificateFile:  c.HTTP.CertificateFile,
		KeyFile:          c.HTTP.KeyFile,
		AllowedOrigins:   c.HTTP.AllowedOrigins,
		RateLimit:        c.HTTP.RateLimit,
		HandshakeTimeout: c.HTTP.HandshakeTimeout,
		WriteTimeout:     c.HTTP.WriteTimeout,
		Extra:            c.HTTP.Extra,
	}
}

func (c *Config) grpcOptions() *grpcserver.Options {
	return &grpcserver.Options{
		Address:         c.GRPC.Address,
		CertificateFile: c.GRPC.CertificateFile,
		KeyFile:         c.GRPC.KeyFile,
		MaxMessageSize:  c.GRPC.MaxMessageSize,
	}
}

func (c *Config) mqttOptions() *mqttserver.Options {
	return &mqttserver.Options{
		BrokerURL: c.MQTT.BrokerURL,
		ClientID:  c.MQTT.ClientID,
		Username:  c.MQTT.Username,
		Password:  c.MQTT.Password,
		QOS:       wire.QOS(c.MQTT.QOS),
	}
}

func (c *Config) zmqOptions() *zmqserver.Options {
	return &zmqserver.Options{
		Endpoint: c.ZMQ.Endpoint,
	}
}
