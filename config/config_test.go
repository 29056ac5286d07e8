package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsAreValid(t *testing.T) {
	assert.NoError(t, DefaultServer().Validate())
	assert.NoError(t, DefaultLookup().Validate())
	assert.Equal(t, DefaultServer().LookupAddr, DefaultLookup().Listen)
}

func TestServerValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Server)
		errMsg string
	}{
		{name: "listen without port", mutate: func(c *Server) { c.Listen = "localhost" }, errMsg: "listen"},
		{name: "bad lookup address", mutate: func(c *Server) { c.LookupAddr = "" }, errMsg: "lookup-addr"},
		{name: "bad admin address", mutate: func(c *Server) { c.AdminListen = "8080" }, errMsg: "admin-listen"},
		{name: "empty store", mutate: func(c *Server) { c.StorePath = "" }, errMsg: "store path"},
		{name: "zero lookup timeout", mutate: func(c *Server) { c.LookupTimeout = 0 }, errMsg: "lookup-timeout"},
		{name: "zero reply limit", mutate: func(c *Server) { c.LookupMaxReply = 0 }, errMsg: "lookup-max-reply"},
		{name: "negative connections", mutate: func(c *Server) { c.MaxConnections = -1 }, errMsg: "max-connections"},
		{name: "zero request size", mutate: func(c *Server) { c.MaxRequestBytes = 0 }, errMsg: "max-request-bytes"},
		{name: "cache without ttl", mutate: func(c *Server) { c.RedisAddr = "127.0.0.1:6379"; c.CacheTTL = 0 }, errMsg: "cache-ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServer()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
		})
	}

	cfg := DefaultServer()
	cfg.AdminListen = ":8080"
	cfg.CacheTTL = 0
	assert.NoError(t, cfg.Validate(), "ttl only matters with a cache")
}

func TestLookupValidate(t *testing.T) {
	cfg := DefaultLookup()
	cfg.ReadTimeout = -time.Second
	assert.ErrorContains(t, cfg.Validate(), "read-timeout")

	cfg = DefaultLookup()
	cfg.CatalogPath = ""
	assert.ErrorContains(t, cfg.Validate(), "catalog path")

	cfg = DefaultLookup()
	cfg.Listen = "nope"
	assert.ErrorContains(t, cfg.Validate(), "listen")
}
