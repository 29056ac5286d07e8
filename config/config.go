// Package config holds the typed configuration of both binaries, their
// defaults and validation. Flags, environment and config files are mapped
// onto these structs by the commands.
package config

import (
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	DefaultListen          = "127.0.0.1:5001"
	DefaultStorePath       = "calificaciones_hilos.csv"
	DefaultLookupAddr      = "127.0.0.1:12346"
	DefaultLookupTimeout   = 5 * time.Second
	DefaultLookupMaxReply  = 1024
	DefaultMaxRequestBytes = 64 << 10
	DefaultCacheTTL        = 5 * time.Minute

	DefaultCatalogListen      = "127.0.0.1:12346"
	DefaultCatalogPath        = "nrcs.csv"
	DefaultCatalogReadTimeout = 5 * time.Second
)

// Server configures the record server
type Server struct {
	Listen          string
	StorePath       string
	LookupAddr      string
	LookupTimeout   time.Duration
	LookupMaxReply  int
	MaxConnections  int
	MaxRequestBytes int

	// AdminListen enables the HTTP admin API when not empty
	AdminListen string

	// RedisAddr enables the validation cache when not empty
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
}

// DefaultServer returns the record server defaults
func DefaultServer() Server {
	return Server{
		Listen:          DefaultListen,
		StorePath:       DefaultStorePath,
		LookupAddr:      DefaultLookupAddr,
		LookupTimeout:   DefaultLookupTimeout,
		LookupMaxReply:  DefaultLookupMaxReply,
		MaxRequestBytes: DefaultMaxRequestBytes,
		CacheTTL:        DefaultCacheTTL,
	}
}

// Validate reports the first invalid setting
func (c Server) Validate() error {
	if err := checkAddr("listen", c.Listen); err != nil {
		return err
	}
	if err := checkAddr("lookup-addr", c.LookupAddr); err != nil {
		return err
	}
	if c.AdminListen != "" {
		if err := checkAddr("admin-listen", c.AdminListen); err != nil {
			return err
		}
	}
	if c.StorePath == "" {
		return errors.New("store path must not be empty")
	}
	if c.LookupTimeout <= 0 {
		return fmt.Errorf("lookup-timeout must be positive, got %s", c.LookupTimeout)
	}
	if c.LookupMaxReply <= 0 {
		return fmt.Errorf("lookup-max-reply must be positive, got %d", c.LookupMaxReply)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max-connections must not be negative, got %d", c.MaxConnections)
	}
	if c.MaxRequestBytes <= 0 {
		return fmt.Errorf("max-request-bytes must be positive, got %d", c.MaxRequestBytes)
	}
	if c.RedisAddr != "" && c.CacheTTL <= 0 {
		return fmt.Errorf("cache-ttl must be positive, got %s", c.CacheTTL)
	}
	return nil
}

// Lookup configures the lookup service
type Lookup struct {
	Listen      string
	CatalogPath string
	ReadTimeout time.Duration
}

// DefaultLookup returns the lookup service defaults
func DefaultLookup() Lookup {
	return Lookup{
		Listen:      DefaultCatalogListen,
		CatalogPath: DefaultCatalogPath,
		ReadTimeout: DefaultCatalogReadTimeout,
	}
}

// Validate reports the first invalid setting
func (c Lookup) Validate() error {
	if err := checkAddr("listen", c.Listen); err != nil {
		return err
	}
	if c.CatalogPath == "" {
		return errors.New("catalog path must not be empty")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read-timeout must be positive, got %s", c.ReadTimeout)
	}
	return nil
}

func checkAddr(name, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s %q: %w", name, addr, err)
	}
	return nil
}
