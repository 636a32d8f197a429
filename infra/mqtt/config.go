package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Config defines the connection parameters and the Home Assistant layout.
type Config struct {
	Broker           string      `json:"broker" yaml:"broker"`
	ClientID         string      `json:"client_id" yaml:"client_id,omitempty"`
	Username         string      `json:"username" yaml:"username,omitempty"`
	Password         string      `json:"password" yaml:"password,omitempty"`
	UseTLS           bool        `json:"use_tls" yaml:"use_tls,omitempty"`
	ClientCert       string      `json:"client_cert" yaml:"client_cert,omitempty"`
	ClientKey        string      `json:"client_key" yaml:"client_key,omitempty"`
	CABundle         string      `json:"ca_bundle" yaml:"ca_bundle,omitempty"`
	UID              string      `json:"uid" yaml:"uid"`
	Discovery        *bool       `json:"discovery" yaml:"discovery,omitempty"`
	DiscoveryPrefix  string      `json:"discovery_prefix" yaml:"discovery_prefix"`
	QoS              *byte       `json:"qos" yaml:"qos"`
	MaxRetries       int         `json:"max_retries" yaml:"max_retries"`
	BackoffMS        int         `json:"backoff_ms" yaml:"backoff_ms"`
	PublishTimeoutMS int         `json:"publish_timeout_ms" yaml:"publish_timeout_ms"`
	ConnectTimeoutMS int         `json:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	SoftwareVersion  string      `json:"-" yaml:"-"`
	TLSConfig        *tls.Config `json:"-" yaml:"-"`
}

const defaultQoS byte = 1

// qos returns the configured QoS, 1 when unset.
func (c Config) qos() byte {
	if c.QoS == nil {
		return defaultQoS
	}
	return *c.QoS
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool { return c.Broker != "" }

// DiscoveryEnabled defaults to true.
func (c Config) DiscoveryEnabled() bool { return c.Discovery == nil || *c.Discovery }

// SetDefaults fills unset fields. The default uid is derived from the host
// name so that it survives restarts.
func (c *Config) SetDefaults() {
	if c.UID == "" {
		host, _ := os.Hostname()
		c.UID = uuid.NewSHA1(uuid.NameSpaceDNS, []byte(host)).String()[:8]
	}
	if c.ClientID == "" {
		c.ClientID = "pipump_" + c.UID
	}
	if c.DiscoveryPrefix == "" {
		c.DiscoveryPrefix = "homeassistant"
	}
	if c.QoS == nil {
		q := defaultQoS
		c.QoS = &q
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS == 0 {
		c.BackoffMS = 100
	}
	if c.PublishTimeoutMS == 0 {
		c.PublishTimeoutMS = 5000
	}
	if c.ConnectTimeoutMS == 0 {
		c.ConnectTimeoutMS = 10000
	}
}

// Validate checks the values a user can get wrong.
func (c Config) Validate() error {
	if c.QoS != nil && *c.QoS > 2 {
		return fmt.Errorf("mqtt: qos must be 0, 1 or 2, got %d", *c.QoS)
	}
	if c.UseTLS && c.TLSConfig == nil && (c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "") {
		return fmt.Errorf("mqtt: tls requires client_cert, client_key and ca_bundle")
	}
	return nil
}

// NewClientOptions builds mqtt client options from Config. The last will
// marks the controller offline on the availability topic.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetCleanSession(true)
	opts.SetWriteTimeout(time.Duration(cfg.PublishTimeoutMS) * time.Millisecond)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	t := newTopics(cfg.DiscoveryPrefix, cfg.UID)
	opts.SetWill(t.availability(), payloadOffline, cfg.qos(), true)
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
