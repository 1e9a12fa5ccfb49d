package broker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/logger"
)

const disconnectQuiesceMs = 250

// Config describes one broker endpoint. Certificate files are only loaded,
// never inspected.
type Config struct {
	Name     string // target name used in logs and metrics
	URL      string // tcp://host:1883, ssl://host:8883, ws://host/mqtt
	ClientID string
	User     string
	Password string

	CACertFile string
	CertFile   string
	KeyFile    string

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	ConnectRetries int
}

// Conn is a connected paho client plus the hooks consumers use to follow
// connection loss and re-establishment.
type Conn struct {
	client mqtt.Client
	name   string
	log    *logrus.Entry

	mu        sync.Mutex
	onConnect []func()
	onLost    []func(error)
	closeOnce sync.Once
}

// NewConn connects to the broker, retrying with exponential backoff until
// ConnectRetries is exhausted or ctx is cancelled.
func NewConn(ctx context.Context, cfg Config, log *logrus.Entry) (*Conn, error) {
	log = logger.OrDefault(log, "broker").WithField("target", cfg.Name)

	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	c := &Conn{name: cfg.Name, log: log}
	opts.SetOnConnectHandler(func(mqtt.Client) { c.fireConnect() })
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) { c.fireLost(err) })
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Warn("broker: reconnecting")
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	retries := cfg.ConnectRetries
	if retries < 1 {
		retries = 1
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var client mqtt.Client
	err = backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		token := client.Connect()
		if !token.WaitTimeout(timeout) {
			return fmt.Errorf("connect timed out after %s", timeout)
		}
		if token.Error() != nil {
			log.WithError(token.Error()).Warn("broker: connect failed")
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s (%s): %v", model.ErrTransport, cfg.Name, cfg.URL, err)
	}

	c.client = client
	log.WithField("url", cfg.URL).Info("broker: connected")
	return c, nil
}

// NewConnFromClient wraps an already connected client.
func NewConnFromClient(name string, client mqtt.Client, log *logrus.Entry) *Conn {
	return &Conn{client: client, name: name, log: logger.OrDefault(log, "broker").WithField("target", name)}
}

func (c *Conn) Name() string { return c.name }

// Client exposes the underlying paho client.
func (c *Conn) Client() mqtt.Client { return c.client }

// IsConnected reports whether the connection is currently open.
func (c *Conn) IsConnected() bool {
	return c != nil && c.client != nil && c.client.IsConnectionOpen()
}

// OnConnect registers fn to run after every (re)connect.
func (c *Conn) OnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = append(c.onConnect, fn)
	c.mu.Unlock()
}

// OnConnectionLost registers fn to run when the connection drops.
func (c *Conn) OnConnectionLost(fn func(error)) {
	c.mu.Lock()
	c.onLost = append(c.onLost, fn)
	c.mu.Unlock()
}

func (c *Conn) fireConnect() {
	c.mu.Lock()
	fns := append([]func(){}, c.onConnect...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Conn) fireLost(err error) {
	c.log.WithError(err).Warn("broker: connection lost")
	c.mu.Lock()
	fns := append([]func(error){}, c.onLost...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// Close disconnects once, letting in-flight work quiesce for 250ms.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		if c.client != nil && c.client.IsConnected() {
			c.client.Disconnect(disconnectQuiesceMs)
			c.log.Info("broker: disconnected")
		}
	})
}

func clientOptions(cfg Config) (*mqtt.ClientOptions, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("%w: broker %q has no url", model.ErrConfig, cfg.Name)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: broker %q url %q", model.ErrConfig, cfg.Name, cfg.URL)
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "plant-monitor"
	}
	clientID = clientID + "-" + uuid.NewString()[:8]

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}

	switch u.Scheme {
	case "ssl", "tls", "mqtts", "wss":
		tc, err := loadTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tc)
	}
	return opts, nil
}

// loadTLSConfig builds a TLS 1.2+ client config from PEM files. An empty CA
// file falls back to the system pool.
func loadTLSConfig(cfg Config) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CACertFile != "" {
		caPEM, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read CA file %s: %v", model.ErrConfig, cfg.CACertFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("%w: no certificates in CA file %s", model.ErrConfig, cfg.CACertFile)
		}
		tc.RootCAs = pool
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		crt, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: load client key pair: %v", model.ErrConfig, err)
		}
		tc.Certificates = []tls.Certificate{crt}
	}
	return tc, nil
}

// ParseTargets parses "name=url,name2=url2". A bare url gets the name
// "default" (or "targetN" when several are bare).
func ParseTargets(spec string) ([]Config, error) {
	var out []Config
	seen := map[string]bool{}
	for i, p := range strings.Split(spec, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, addr := "", p
		if kv := strings.SplitN(p, "=", 2); len(kv) == 2 {
			name, addr = strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		}
		if name == "" {
			name = "default"
			if seen[name] {
				name = fmt.Sprintf("target%d", i+1)
			}
		}
		if addr == "" {
			return nil, fmt.Errorf("%w: target %q has no url", model.ErrConfig, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate target %q", model.ErrConfig, name)
		}
		seen[name] = true
		out = append(out, Config{Name: name, URL: addr})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no broker targets", model.ErrConfig)
	}
	return out, nil
}
