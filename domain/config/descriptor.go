// Package config defines the persisted descriptors for database connections
// and model providers.
package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Descriptor errors.
var (
	// ErrNoConnection is returned when a session has no usable database
	// connection configured.
	ErrNoConnection = errors.New("no database connection configured")
	// ErrNoProvider is returned when a session has no usable model provider
	// configured.
	ErrNoProvider = errors.New("no model provider configured")
)

// ConnectionDescriptor describes a target database connection. Password is
// held decrypted in memory only; the store encrypts it at rest.
type ConnectionDescriptor struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Driver   string `json:"driver"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"-"`
	SSLMode  string `json:"ssl_mode,omitempty"`
}

// DSN renders the connection as a driver DSN. Postgres-family drivers get a
// URL; sqlite gets the database path as-is.
func (c ConnectionDescriptor) DSN() string {
	switch c.Driver {
	case "sqlite", "sqlite3":
		return c.Database
	default:
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "prefer"
		}
		u := url.URL{
			Scheme: "postgres",
			Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
			Path:   "/" + c.Database,
		}
		if c.Username != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		}
		q := url.Values{}
		q.Set("sslmode", sslMode)
		u.RawQuery = q.Encode()
		return u.String()
	}
}

// Validate checks the descriptor has enough to connect with.
func (c ConnectionDescriptor) Validate() error {
	if c.Driver == "" {
		return fmt.Errorf("%w: missing driver", ErrNoConnection)
	}
	if c.Database == "" {
		return fmt.Errorf("%w: missing database name", ErrNoConnection)
	}
	return nil
}

// ProviderDescriptor describes a model provider account. APIKey is held
// decrypted in memory only.
type ProviderDescriptor struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	APIKey  string `json:"-"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
	Default bool   `json:"default"`
}

// Validate checks the descriptor identifies a provider type.
func (p ProviderDescriptor) Validate() error {
	if p.Type == "" {
		return fmt.Errorf("%w: missing provider type", ErrNoProvider)
	}
	return nil
}
