package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
)

const (
	// DriverPostgres selects the pgx stdlib driver.
	DriverPostgres = "postgres"
	// DriverMySQL selects go-sql-driver/mysql.
	DriverMySQL = "mysql"
)

// tlsConfigName is the name used to register custom TLS configs with the MySQL driver.
const tlsConfigName = "chainquery-custom"

// DriverName returns the database/sql driver name for the configured driver.
func (d *DatabaseConfig) DriverName() string {
	if d.Driver == DriverMySQL {
		return "mysql"
	}
	return "pgx"
}

// DSN returns a data source name for the configured driver.
// If ConnectionString is set, it is used directly (with TLS settings applied).
// Otherwise, builds DSN from discrete fields.
func (d *DatabaseConfig) DSN() string {
	if d.Driver == DriverMySQL {
		return d.mysqlDSN()
	}
	return d.postgresDSN()
}

func (d *DatabaseConfig) postgresDSN() string {
	if d.ConnectionString != "" {
		return d.ConnectionString
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Database,
	}
	q := url.Values{}
	if mode := d.postgresSSLMode(); mode != "" {
		q.Set("sslmode", mode)
	}
	if d.TLS.CAFile != "" {
		q.Set("sslrootcert", d.TLS.CAFile)
	}
	if d.TLS.CertFile != "" && d.TLS.KeyFile != "" {
		q.Set("sslcert", d.TLS.CertFile)
		q.Set("sslkey", d.TLS.KeyFile)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (d *DatabaseConfig) postgresSSLMode() string {
	switch d.TLS.Mode {
	case "":
		return ""
	case "off":
		return "disable"
	case "skip-verify":
		return "require"
	default:
		return d.TLS.Mode
	}
}

func (d *DatabaseConfig) mysqlDSN() string {
	var dsn string

	if d.ConnectionString != "" {
		dsn = d.ConnectionString
		if !strings.Contains(dsn, "parseTime") {
			if strings.Contains(dsn, "?") {
				dsn += "&parseTime=true"
			} else {
				dsn += "?parseTime=true"
			}
		}
		if !strings.Contains(dsn, "loc=") {
			dsn += "&loc=UTC"
		}
	} else {
		dsn = fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
			d.User,
			d.Password,
			d.Host,
			d.Port,
			d.Database,
		)
	}

	tlsParam := d.mysqlTLSParam()
	if tlsParam != "" && !strings.Contains(dsn, "tls=") {
		dsn += fmt.Sprintf("&tls=%s", tlsParam)
	}
	return dsn
}

// mysqlTLSParam returns the tls DSN parameter: the registered config name for
// verifying modes, or empty when no TLS is configured.
func (d *DatabaseConfig) mysqlTLSParam() string {
	switch d.TLS.Mode {
	case "":
		return ""
	case "off":
		return "false"
	case "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		return d.TLS.Mode
	}
}

// EffectiveDatabaseName returns the database the configuration targets: the
// explicit database.database, or the one named in the DSN.
func (d *DatabaseConfig) EffectiveDatabaseName() (string, error) {
	configDatabase := strings.TrimSpace(d.Database)
	dsnDatabase, err := d.dsnDatabaseName()
	if err != nil {
		return "", err
	}
	if configDatabase != "" {
		if dsnDatabase != "" && configDatabase != dsnDatabase {
			return "", fmt.Errorf(
				"database mismatch: database.database=%q but database.dsn targets %q",
				configDatabase,
				dsnDatabase,
			)
		}
		return configDatabase, nil
	}
	if dsnDatabase != "" {
		return dsnDatabase, nil
	}
	return "", fmt.Errorf("no database configured: set database.database or name one in database.dsn")
}

func (d *DatabaseConfig) dsnDatabaseName() (string, error) {
	dsn := strings.TrimSpace(d.ConnectionString)
	if dsn == "" {
		return "", nil
	}
	if d.Driver == DriverMySQL {
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("database.dsn is invalid: %w", err)
		}
		return strings.TrimSpace(parsed.DBName), nil
	}
	parsed, err := pgx.ParseConfig(dsn)
	if err != nil {
		return "", fmt.Errorf("database.dsn is invalid: %w", err)
	}
	return strings.TrimSpace(parsed.Database), nil
}

// RegisterTLS registers a custom TLS configuration with the MySQL driver.
// Must be called before opening a mysql connection in verify-ca or verify-full
// mode. Postgres reads its TLS settings from the DSN, so this is a no-op there.
func (d *DatabaseConfig) RegisterTLS() error {
	if d.Driver != DriverMySQL {
		return nil
	}
	if d.TLS.Mode != "verify-ca" && d.TLS.Mode != "verify-full" {
		return nil
	}

	tlsCfg, err := d.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}
	return nil
}

func (d *DatabaseConfig) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if d.TLS.CAFile != "" {
		caCert, err := os.ReadFile(d.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", d.TLS.CAFile, err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", d.TLS.CAFile)
		}
		tlsCfg.RootCAs = certPool
	}

	if d.TLS.CertFile != "" && d.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(d.TLS.CertFile, d.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	} else if d.TLS.CertFile != "" || d.TLS.KeyFile != "" {
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}

	if d.TLS.Mode == "verify-full" && d.TLS.ServerName != "" {
		tlsCfg.ServerName = d.TLS.ServerName
	}
	return tlsCfg, nil
}
