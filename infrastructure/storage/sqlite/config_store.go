package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dbpilot/dbpilot/domain/config"
	"github.com/dbpilot/dbpilot/infrastructure/etp"
)

// ErrNoCipher is returned when secret material must be stored or read but
// the store was opened without an encryption key.
var ErrNoCipher = errors.New("store opened without encryption key")

// SaveConnection inserts or updates a connection descriptor, encrypting the
// password.
func (s *Store) SaveConnection(ctx context.Context, c config.ConnectionDescriptor) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	if s.box == nil && c.Password != "" {
		return 0, ErrNoCipher
	}
	passwordEnc := ""
	if c.Password != "" {
		var err error
		passwordEnc, err = s.box.Encrypt(c.Password)
		if err != nil {
			return 0, fmt.Errorf("encrypt password: %w", err)
		}
	}

	if c.ID > 0 {
		_, err := s.db.ExecContext(ctx,
			`UPDATE connections SET name=?, driver=?, host=?, port=?, dbname=?, username=?, password_enc=?, ssl_mode=?
			 WHERE id=?`,
			c.Name, c.Driver, c.Host, c.Port, c.Database, c.Username, passwordEnc, c.SSLMode, c.ID)
		if err != nil {
			return 0, fmt.Errorf("update connection: %w", err)
		}
		return c.ID, nil
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (name, driver, host, port, dbname, username, password_enc, ssl_mode)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.Driver, c.Host, c.Port, c.Database, c.Username, passwordEnc, c.SSLMode)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("connection %q already exists", c.Name)
		}
		return 0, fmt.Errorf("save connection: %w", err)
	}
	return res.LastInsertId()
}

// GetConnection loads and decrypts a connection descriptor.
func (s *Store) GetConnection(ctx context.Context, id int64) (config.ConnectionDescriptor, error) {
	return s.scanConnection(s.db.QueryRowContext(ctx,
		`SELECT id, name, driver, host, port, dbname, username, password_enc, ssl_mode
		 FROM connections WHERE id = ?`, id))
}

// GetActiveConnection loads the connection marked active.
func (s *Store) GetActiveConnection(ctx context.Context) (config.ConnectionDescriptor, error) {
	return s.scanConnection(s.db.QueryRowContext(ctx,
		`SELECT id, name, driver, host, port, dbname, username, password_enc, ssl_mode
		 FROM connections WHERE active = 1 LIMIT 1`))
}

// SetActiveConnection marks one connection active and clears the rest.
func (s *Store) SetActiveConnection(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE connections SET active = 0`); err != nil {
		return fmt.Errorf("clear active: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE connections SET active = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: connection %d", ErrNotFound, id)
	}
	return tx.Commit()
}

func (s *Store) scanConnection(row *sql.Row) (config.ConnectionDescriptor, error) {
	var c config.ConnectionDescriptor
	var passwordEnc string
	err := row.Scan(&c.ID, &c.Name, &c.Driver, &c.Host, &c.Port, &c.Database,
		&c.Username, &passwordEnc, &c.SSLMode)
	if errors.Is(err, sql.ErrNoRows) {
		return config.ConnectionDescriptor{}, fmt.Errorf("%w: connection", ErrNotFound)
	}
	if err != nil {
		return config.ConnectionDescriptor{}, fmt.Errorf("get connection: %w", err)
	}
	if passwordEnc != "" {
		if s.box == nil {
			return config.ConnectionDescriptor{}, ErrNoCipher
		}
		c.Password, err = s.box.Decrypt(passwordEnc)
		if err != nil {
			return config.ConnectionDescriptor{}, err
		}
	}
	return c, nil
}

// ListConnections returns all connection descriptors without passwords.
func (s *Store) ListConnections(ctx context.Context) ([]config.ConnectionDescriptor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, driver, host, port, dbname, username, ssl_mode FROM connections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []config.ConnectionDescriptor
	for rows.Next() {
		var c config.ConnectionDescriptor
		if err := rows.Scan(&c.ID, &c.Name, &c.Driver, &c.Host, &c.Port, &c.Database, &c.Username, &c.SSLMode); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveProvider inserts or updates a provider descriptor, encrypting the API
// key.
func (s *Store) SaveProvider(ctx context.Context, p config.ProviderDescriptor) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if s.box == nil && p.APIKey != "" {
		return 0, ErrNoCipher
	}
	keyEnc := ""
	if p.APIKey != "" {
		var err error
		keyEnc, err = s.box.Encrypt(p.APIKey)
		if err != nil {
			return 0, fmt.Errorf("encrypt api key: %w", err)
		}
	}
	isDefault := 0
	if p.Default {
		isDefault = 1
	}

	if p.ID > 0 {
		_, err := s.db.ExecContext(ctx,
			`UPDATE providers SET name=?, type=?, api_key_enc=?, base_url=?, model=?, is_default=? WHERE id=?`,
			p.Name, p.Type, keyEnc, p.BaseURL, p.Model, isDefault, p.ID)
		if err != nil {
			return 0, fmt.Errorf("update provider: %w", err)
		}
		return p.ID, nil
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO providers (name, type, api_key_enc, base_url, model, is_default)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.Name, p.Type, keyEnc, p.BaseURL, p.Model, isDefault)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("provider %q already exists", p.Name)
		}
		return 0, fmt.Errorf("save provider: %w", err)
	}
	return res.LastInsertId()
}

// GetProvider loads and decrypts a provider descriptor.
func (s *Store) GetProvider(ctx context.Context, id int64) (config.ProviderDescriptor, error) {
	return s.scanProvider(s.db.QueryRowContext(ctx,
		`SELECT id, name, type, api_key_enc, base_url, model, is_default FROM providers WHERE id = ?`, id))
}

// GetDefaultProvider loads the provider marked default.
func (s *Store) GetDefaultProvider(ctx context.Context) (config.ProviderDescriptor, error) {
	return s.scanProvider(s.db.QueryRowContext(ctx,
		`SELECT id, name, type, api_key_enc, base_url, model, is_default
		 FROM providers WHERE is_default = 1 LIMIT 1`))
}

func (s *Store) scanProvider(row *sql.Row) (config.ProviderDescriptor, error) {
	var p config.ProviderDescriptor
	var keyEnc string
	var isDefault int
	err := row.Scan(&p.ID, &p.Name, &p.Type, &keyEnc, &p.BaseURL, &p.Model, &isDefault)
	if errors.Is(err, sql.ErrNoRows) {
		return config.ProviderDescriptor{}, fmt.Errorf("%w: provider", ErrNotFound)
	}
	if err != nil {
		return config.ProviderDescriptor{}, fmt.Errorf("get provider: %w", err)
	}
	p.Default = isDefault != 0
	if keyEnc != "" {
		if s.box == nil {
			return config.ProviderDescriptor{}, ErrNoCipher
		}
		p.APIKey, err = s.box.Decrypt(keyEnc)
		if err != nil {
			return config.ProviderDescriptor{}, err
		}
	}
	return p, nil
}

// SaveServer inserts or updates an external tool server config.
func (s *Store) SaveServer(ctx context.Context, cfg etp.ServerConfig) error {
	args, err := json.Marshal(cfg.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	env, err := json.Marshal(cfg.Env)
	if err != nil {
		return fmt.Errorf("encode env: %w", err)
	}
	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO etp_servers (name, command, args, env, enabled) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET command=excluded.command, args=excluded.args,
			env=excluded.env, enabled=excluded.enabled`,
		cfg.Name, cfg.Command, string(args), string(env), enabled)
	if err != nil {
		return fmt.Errorf("save server: %w", err)
	}
	return nil
}

// DeleteServer removes an external tool server config.
func (s *Store) DeleteServer(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM etp_servers WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: server %s", ErrNotFound, name)
	}
	return nil
}

// ListServers returns all external tool server configs.
func (s *Store) ListServers(ctx context.Context) ([]etp.ServerConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, command, args, env, enabled FROM etp_servers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var out []etp.ServerConfig
	for rows.Next() {
		var cfg etp.ServerConfig
		var args, env string
		var enabled int
		if err := rows.Scan(&cfg.Name, &cfg.Command, &args, &env, &enabled); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		if args != "" {
			if err := json.Unmarshal([]byte(args), &cfg.Args); err != nil {
				return nil, fmt.Errorf("decode args for %s: %w", cfg.Name, err)
			}
		}
		if env != "" {
			if err := json.Unmarshal([]byte(env), &cfg.Env); err != nil {
				return nil, fmt.Errorf("decode env for %s: %w", cfg.Name, err)
			}
		}
		cfg.Enabled = enabled != 0
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// GetPreference reads a preference value, returning defaultValue when unset.
func (s *Store) GetPreference(ctx context.Context, key, defaultValue string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return defaultValue, nil
	}
	if err != nil {
		return "", fmt.Errorf("get preference: %w", err)
	}
	return value, nil
}

// SetPreference writes a preference value.
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}
