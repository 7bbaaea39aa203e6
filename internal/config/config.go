// Package config assembles runtime settings from defaults, an optional YAML
// file, SOURCEDESK_* environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	envPrefix = "SOURCEDESK_"
)

// Config holds runtime settings for the API server.
type Config struct {
	Store    string   `yaml:"store"`
	HTTP     HTTP     `yaml:"http"`
	Database Database `yaml:"database"`
	Auth     Auth     `yaml:"auth"`
	Links    Links    `yaml:"links"`
	Portal   Portal   `yaml:"portal"`
}

type HTTP struct {
	Addr            string        `yaml:"addr"`
	PublicBaseURL   string        `yaml:"public_base_url"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	// TrustedProxies lists CIDRs (or bare addresses) whose X-Forwarded-For
	// header is honoured. Empty means the socket peer is the client.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type Database struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	Retries      int    `yaml:"retries"`
}

type Auth struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// Links bounds link lifetimes, in days.
type Links struct {
	DefaultLifetimeDays int `yaml:"default_lifetime_days"`
	MaxLifetimeDays     int `yaml:"max_lifetime_days"`
}

// Portal rate limits apply per client IP.
type Portal struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// Default returns development defaults. The auth secret is deliberately empty.
func Default() Config {
	return Config{
		Store: StorePostgres,
		HTTP: HTTP{
			Addr:            ":8080",
			PublicBaseURL:   "http://localhost:8080",
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Database: Database{
			MaxOpenConns: 50,
			MaxIdleConns: 25,
			Retries:      3,
		},
		Auth: Auth{
			TokenTTL: 15 * time.Minute,
		},
		Links: Links{
			DefaultLifetimeDays: 7,
			MaxLifetimeDays:     365,
		},
		Portal: Portal{
			RatePerSecond: 5,
			Burst:         10,
		},
	}
}

// Load builds a Config from args (without the program name) and the process
// environment.
func Load(args []string) (Config, error) {
	return LoadWith(args, os.Getenv)
}

// LoadWith is Load with an explicit environment lookup.
func LoadWith(args []string, getenv func(string) string) (Config, error) {
	cfg := Default()

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	path, _ := fs.GetString("config")
	if path == "" {
		path = getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.applyFlags(fs); err != nil {
		return Config{}, err
	}
	cfg.HTTP.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.HTTP.PublicBaseURL), "/")
	return cfg, nil
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("sourcedesk", pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.String("store", "", "storage backend: postgres or memory")
	fs.String("http-addr", "", "HTTP listen address")
	fs.String("public-base-url", "", "public origin used to render portal links")
	fs.String("pg-dsn", "", "PostgreSQL DSN")
	fs.String("auth-secret", "", "HMAC secret for operator tokens")
	fs.Duration("token-ttl", 0, "operator token lifetime")
	fs.Int("link-default-days", 0, "default link lifetime in days")
	fs.Int("link-max-days", 0, "maximum link lifetime in days")
	fs.Float64("portal-rate", 0, "portal requests per second per client IP")
	fs.Int("portal-burst", 0, "portal burst per client IP")
	fs.Int("db-retries", 0, "retries for transient database failures")
	fs.StringSlice("trusted-proxies", nil, "CIDRs of reverse proxies allowed to set X-Forwarded-For")
	return fs
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(envPrefix + name)); v != "" {
			*dst = v
		}
	}
	str("STORE", &c.Store)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("PUBLIC_BASE_URL", &c.HTTP.PublicBaseURL)
	str("PG_DSN", &c.Database.DSN)
	str("AUTH_SECRET", &c.Auth.Secret)

	if v := strings.TrimSpace(getenv(envPrefix + "TRUSTED_PROXIES")); v != "" {
		c.HTTP.TrustedProxies = strings.Split(v, ",")
	}
	if v := strings.TrimSpace(getenv(envPrefix + "TOKEN_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sTOKEN_TTL: %w", envPrefix, err)
		}
		c.Auth.TokenTTL = d
	}
	for name, dst := range map[string]*int{
		"LINK_DEFAULT_DAYS": &c.Links.DefaultLifetimeDays,
		"LINK_MAX_DAYS":     &c.Links.MaxLifetimeDays,
	} {
		if v := strings.TrimSpace(getenv(envPrefix + name)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = n
		}
	}
	return nil
}

func (c *Config) applyFlags(fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "store":
			c.Store, err = fs.GetString(f.Name)
		case "http-addr":
			c.HTTP.Addr, err = fs.GetString(f.Name)
		case "public-base-url":
			c.HTTP.PublicBaseURL, err = fs.GetString(f.Name)
		case "pg-dsn":
			c.Database.DSN, err = fs.GetString(f.Name)
		case "auth-secret":
			c.Auth.Secret, err = fs.GetString(f.Name)
		case "token-ttl":
			c.Auth.TokenTTL, err = fs.GetDuration(f.Name)
		case "link-default-days":
			c.Links.DefaultLifetimeDays, err = fs.GetInt(f.Name)
		case "link-max-days":
			c.Links.MaxLifetimeDays, err = fs.GetInt(f.Name)
		case "portal-rate":
			c.Portal.RatePerSecond, err = fs.GetFloat64(f.Name)
		case "portal-burst":
			c.Portal.Burst, err = fs.GetInt(f.Name)
		case "db-retries":
			c.Database.Retries, err = fs.GetInt(f.Name)
		case "trusted-proxies":
			c.HTTP.TrustedProxies, err = fs.GetStringSlice(f.Name)
		}
	})
	return err
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StorePostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			errs = append(errs, errors.New("database dsn is required for the postgres store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	if u, err := url.Parse(c.HTTP.PublicBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("public base url %q must be an absolute http(s) URL", c.HTTP.PublicBaseURL))
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("auth secret is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("token ttl must be positive"))
	}
	if c.Links.MaxLifetimeDays <= 0 || c.Links.DefaultLifetimeDays < 0 || c.Links.DefaultLifetimeDays > c.Links.MaxLifetimeDays {
		errs = append(errs, fmt.Errorf("link lifetime %d/%d days is invalid", c.Links.DefaultLifetimeDays, c.Links.MaxLifetimeDays))
	}
	if c.Portal.RatePerSecond <= 0 || c.Portal.Burst < 1 {
		errs = append(errs, errors.New("portal rate and burst must be positive"))
	}
	for _, p := range c.HTTP.TrustedProxies {
		if _, err := ParseProxy(p); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Database.Retries < 0 {
		errs = append(errs, errors.New("db retries must not be negative"))
	}
	return errors.Join(errs...)
}

// ParseProxy parses one trusted proxy entry, either a CIDR or a single address.
func ParseProxy(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("trusted proxy %q: %w", s, err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("trusted proxy %q: %w", s, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
