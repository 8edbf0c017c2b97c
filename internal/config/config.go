// Package config loads the daemon configuration.
//
// Configuration is read once at startup from a single YAML file given by the
// --config flag or the UIP_CONFIG environment variable. Relative certificate
// paths are resolved against the directory containing the file.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/1ureka/uip/internal/peerdir"
)

// EnvConfig names the environment variable consulted when no --config flag is given.
const EnvConfig = "UIP_CONFIG"

// Config stores everything the daemon needs at startup.
type Config struct {
	// ID is this node's peer id.
	ID string `yaml:"id"`

	// Relays lists peer ids the daemon keeps a direct link to.
	Relays []string `yaml:"relays"`

	// Peers is the initial peer directory snapshot.
	Peers []PeerConfig `yaml:"peers"`

	// TLS is this node's own identity. Required when Listen is set; when
	// present on a dialing node it is offered to servers for mutual auth.
	TLS *TLSConfig `yaml:"tls,omitempty"`

	// Listen is the TCP address for inbound peer links. Empty disables
	// the listener.
	Listen string `yaml:"listen,omitempty"`

	// ControlSocket is the unix datagram socket applications register on.
	ControlSocket string `yaml:"control_socket"`

	// StatusListen is the HTTP address serving /metrics and /ws. Empty
	// disables the status server.
	StatusListen string `yaml:"status_listen,omitempty"`

	// STUNServers are host:port UDP STUN servers used to learn external
	// addresses. Empty disables external address discovery.
	STUNServers []string `yaml:"stun_servers,omitempty"`

	TickInterval  time.Duration `yaml:"tick_interval"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// PeerConfig is one peer directory entry.
type PeerConfig struct {
	ID          string   `yaml:"id"`
	Addresses   []string `yaml:"addresses"`
	Certificate string   `yaml:"certificate"`
}

// TLSConfig points at a PEM certificate and private key.
type TLSConfig struct {
	Certificate string `yaml:"certificate"`
	Key         string `yaml:"key"`
}

// Default returns the configuration every file is merged over.
func Default() *Config {
	return &Config{
		ControlSocket: defaultControlSocket(),
		TickInterval:  5 * time.Second,
		DialTimeout:   10 * time.Second,
		StatsInterval: 10 * time.Second,
	}
}

func defaultControlSocket() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "uip", "ctl.sock")
}

// Load reads the file at path, or at $UIP_CONFIG when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		return nil, fmt.Errorf("no configuration file: pass --config or set %s", EnvConfig)
	}
	return LoadFile(path)
}

// LoadFile reads, resolves and validates the configuration at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Paths are
// left as written.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePaths makes certificate paths relative to base absolute.
func (c *Config) resolvePaths(base string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i := range c.Peers {
		c.Peers[i].Certificate = resolve(c.Peers[i].Certificate)
	}
	if c.TLS != nil {
		c.TLS.Certificate = resolve(c.TLS.Certificate)
		c.TLS.Key = resolve(c.TLS.Key)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if c.ControlSocket == "" {
		errs = append(errs, errors.New("control_socket is required"))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval))
	}
	if c.StatsInterval <= 0 {
		errs = append(errs, fmt.Errorf("stats_interval must be positive, got %s", c.StatsInterval))
	}
	if c.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("dial_timeout must not be negative, got %s", c.DialTimeout))
	}

	seen := make(map[string]bool)
	for i, p := range c.Peers {
		switch {
		case p.ID == "":
			errs = append(errs, fmt.Errorf("peers[%d].id is required", i))
		case seen[p.ID]:
			errs = append(errs, fmt.Errorf("peers[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true
		if p.Certificate == "" {
			errs = append(errs, fmt.Errorf("peers[%d].certificate is required", i))
		}
		for _, addr := range p.Addresses {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				errs = append(errs, fmt.Errorf("peers[%d]: invalid address %q", i, addr))
			}
		}
	}

	if c.Listen != "" && c.TLS == nil {
		errs = append(errs, errors.New("listen requires tls.certificate and tls.key"))
	}
	if c.TLS != nil && (c.TLS.Certificate == "" || c.TLS.Key == "") {
		errs = append(errs, errors.New("tls requires both certificate and key"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Directory loads every peer certificate and builds the static peer directory.
func (c *Config) Directory() (*peerdir.Static, error) {
	dir := peerdir.NewStatic()
	for _, p := range c.Peers {
		cert, err := peerdir.LoadCertificate(p.Certificate)
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", p.ID, err)
		}
		if err := dir.Add(p.ID, peerdir.Record{Addresses: p.Addresses, Certificate: cert}); err != nil {
			return nil, err
		}
	}
	return dir, nil
}

// LocalCertificate loads this node's certificate and key, or returns nil
// when none is configured.
func (c *Config) LocalCertificate() (*tls.Certificate, error) {
	if c.TLS == nil {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.TLS.Certificate, c.TLS.Key)
	if err != nil {
		return nil, fmt.Errorf("load tls identity: %w", err)
	}
	return &cert, nil
}
