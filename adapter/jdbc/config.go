package jdbc

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/config"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// DriverPostgres is the only registered database/sql driver
const DriverPostgres = "postgres"

// Connection is the database section shared by both JDBC configurations.
// DSN wins over the individual fields when set.
type Connection struct {
	Driver          string          `json:"driver,omitempty"`
	DSN             string          `json:"dsn,omitempty"`
	Host            string          `json:"host,omitempty"`
	Port            int             `json:"port,omitempty"`
	Database        string          `json:"database,omitempty"`
	Username        string          `json:"username,omitempty"`
	Password        string          `json:"password,omitempty"`
	SSLMode         string          `json:"ssl_mode,omitempty"`
	MaxOpenConns    int             `json:"max_open_conns,omitempty"`
	MaxIdleConns    int             `json:"max_idle_conns,omitempty"`
	ConnMaxLifetime config.Duration `json:"conn_max_lifetime,omitempty"`
	QueryTimeout    config.Duration `json:"query_timeout,omitempty"`
}

// Validate checks the connection section
func (c Connection) Validate() error {
	if c.driver() != DriverPostgres {
		return errors.WrapInvalid(fmt.Errorf("%w: driver %q", errors.ErrUnsupportedType, c.Driver), "jdbc", "Validate", "driver")
	}
	if c.DSN == "" && (c.Host == "" || c.Database == "") {
		return errors.WrapInvalid(errors.ErrMissingConfig, "jdbc", "Validate", "dsn or host and database are required")
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "jdbc", "Validate", "connection pool sizes cannot be negative")
	}
	return nil
}

func (c Connection) driver() string {
	if c.Driver == "" {
		return DriverPostgres
	}
	return strings.ToLower(c.Driver)
}

// ConnString returns the DSN passed to the driver
func (c Connection) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {ssl}}.Encode(),
	}
	return u.String()
}

func (c Connection) queryTimeout() time.Duration {
	return adapter.TimeoutOr(c.QueryTimeout, 30*time.Second)
}

// SenderConfig configures polling a table or view. Parameters bind the
// :name placeholders of Query. UpdateQuery runs once per delivered row when
// the message is acknowledged, typically to flag the row as processed.
type SenderConfig struct {
	adapter.Conversion
	Connection
	Query       string         `json:"select_query"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	UpdateQuery string         `json:"update_query,omitempty"`
	MaxRows     int            `json:"max_rows,omitempty"`
}

// Validate checks the configuration
func (c *SenderConfig) Validate() error {
	if err := c.Connection.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Query) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "jdbc", "Validate", "select_query is required")
	}
	if c.MaxRows < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "jdbc", "Validate", "max_rows cannot be negative")
	}
	return c.Conversion.Validate()
}

// ReceiverConfig configures writing records. Statement uses :field
// placeholders bound from each JSON record; RecordsPath selects the record
// array inside the payload.
type ReceiverConfig struct {
	adapter.Conversion
	Connection
	Statement   string `json:"insert_query"`
	RecordsPath string `json:"records_path,omitempty"`
}

// Validate checks the configuration
func (c *ReceiverConfig) Validate() error {
	if err := c.Connection.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Statement) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "jdbc", "Validate", "insert_query is required")
	}
	return c.Conversion.Validate()
}
