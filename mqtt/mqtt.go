// Package mqtt wraps the paho client for status, card and control topics.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const defaultPrefix = "cardwedge"

// Client wraps the MQTT client with application-specific functionality.
type Client struct {
	client       paho.Client
	clientID     string
	prefix       string
	enabled      bool
	log          zerolog.Logger
	onConnect    func()
	onDisconnect func()
	onMessage    func(topic string, payload []byte)
}

// Config holds MQTT connection settings.
type Config struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	CACert      string `yaml:"ca_cert"`
	ClientCert  string `yaml:"client_cert"`
	ClientKey   string `yaml:"client_key"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"` // default "cardwedge"
}

// Handlers holds callback functions for MQTT events.
type Handlers struct {
	OnConnect    func()
	OnDisconnect func()
	OnMessage    func(topic string, payload []byte)
}

// New creates a new MQTT client. Returns a disabled no-op client if host is empty.
func New(cfg Config, handlers Handlers, log zerolog.Logger) (*Client, error) {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = defaultPrefix
	}
	clientID := cfg.ClientID
	if clientID == "" {
		host, _ := os.Hostname()
		clientID = "cardwedge-" + host
	}

	c := &Client{
		clientID:     clientID,
		prefix:       prefix,
		log:          log,
		onConnect:    handlers.OnConnect,
		onDisconnect: handlers.OnDisconnect,
		onMessage:    handlers.OnMessage,
	}

	if cfg.Host == "" {
		log.Info().Msg("MQTT disabled (no host configured)")
		return c, nil
	}

	c.enabled = true

	var broker string
	var tlsConfig *tls.Config

	hasTLS := cfg.CACert != "" || cfg.ClientCert != ""

	if hasTLS {
		if cfg.Port == 0 {
			cfg.Port = 8883
		}
		broker = fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port)

		var err error
		tlsConfig, err = buildTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("build TLS config: %w", err)
		}
	} else {
		if cfg.Port == 0 {
			cfg.Port = 1883
		}
		broker = fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
		log.Info().Msg("MQTT using non-TLS connection")
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60 * time.Second).
		SetWill(c.Topic("status"), `{"running":false}`, 0, true).
		SetConnectionLostHandler(c.handleConnectionLost).
		SetOnConnectHandler(c.handleConnect).
		SetDefaultPublishHandler(c.handleMessage)

	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(opts)

	paho.ERROR = pahoLogger{log, zerolog.ErrorLevel}
	paho.CRITICAL = pahoLogger{log, zerolog.ErrorLevel}
	paho.WARN = pahoLogger{log, zerolog.WarnLevel}

	return c, nil
}

// pahoLogger feeds paho's internal logging into zerolog.
type pahoLogger struct {
	log   zerolog.Logger
	level zerolog.Level
}

func (l pahoLogger) Println(v ...interface{}) {
	l.log.WithLevel(l.level).Str("source", "paho").Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l pahoLogger) Printf(format string, v ...interface{}) {
	l.log.WithLevel(l.level).Str("source", "paho").Msgf(format, v...)
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CACert)
		}
		tlsConfig.RootCAs = caPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Topic returns name under the configured prefix.
func (c *Client) Topic(name string) string {
	return c.prefix + "/" + name
}

// Connect connects to the MQTT broker. If disabled, calls onConnect immediately.
func (c *Client) Connect() error {
	if !c.enabled {
		if c.onConnect != nil {
			c.onConnect()
		}
		return nil
	}

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect: %w", token.Error())
	}
	c.log.Info().Str("client_id", c.clientID).Msg("MQTT connected")
	return nil
}

// Disconnect disconnects from the MQTT broker. No-op if disabled.
func (c *Client) Disconnect() {
	if !c.enabled || c.client == nil {
		return
	}
	c.client.Disconnect(250)
}

// Subscribe subscribes to a topic. No-op if disabled.
func (c *Client) Subscribe(topic string) error {
	if !c.enabled {
		return nil
	}

	if token := c.client.Subscribe(topic, 0, nil); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// Publish publishes a message to a topic. No-op if disabled.
func (c *Client) Publish(topic string, payload string) {
	if !c.enabled {
		return
	}
	c.client.Publish(topic, 0, false, payload)
}

// PublishRetained publishes a message the broker keeps for late subscribers.
func (c *Client) PublishRetained(topic string, payload string) {
	if !c.enabled {
		return
	}
	c.client.Publish(topic, 0, true, payload)
}

// IsEnabled returns whether MQTT is enabled.
func (c *Client) IsEnabled() bool {
	return c.enabled
}

func (c *Client) handleConnect(client paho.Client) {
	c.log.Info().Msg("MQTT connection established")
	if c.onConnect != nil {
		c.onConnect()
	}
}

func (c *Client) handleConnectionLost(client paho.Client, err error) {
	c.log.Warn().Err(err).Msg("MQTT connection lost")
	if c.onDisconnect != nil {
		c.onDisconnect()
	}
}

func (c *Client) handleMessage(client paho.Client, msg paho.Message) {
	if c.onMessage != nil {
		c.onMessage(msg.Topic(), msg.Payload())
	}
}
