// Package config holds the connection settings shared by the gorm and database/sql adapters.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// PoolConfig holds database/sql connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max-open-conns"`
	MaxIdleConns           int `yaml:"max-idle-conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn-max-lifetime-minutes"`
}

// DatabaseConfig describes one named database connection.
// DSN, when set, is used verbatim and the discrete fields are ignored.
type DatabaseConfig struct {
	Type     string     `yaml:"type"`
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	Database string     `yaml:"database"`
	User     string     `yaml:"user"`
	Password string     `yaml:"password"`
	Sslmode  string     `yaml:"sslmode"`
	Account  string     `yaml:"account"`
	DSN      string     `yaml:"dsn"`
	Pool     PoolConfig `yaml:"pool"`
}

// ConnMaxLifetime converts the configured minutes into a duration.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.Pool.ConnMaxLifetimeMinutes) * time.Minute
}

// ConnectionString renders the driver-specific DSN for c.Type.
func (c DatabaseConfig) ConnectionString() (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	switch c.Type {
	case "sqlite", "sqlite3":
		if c.Database == "" {
			return "", fmt.Errorf("sqlite database path cannot be empty")
		}
		return c.Database, nil
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.portOr(3306)))
		mc.DBName = c.Database
		mc.ParseTime = true
		return mc.FormatDSN(), nil
	case "postgres":
		sslmode := c.Sslmode
		if sslmode == "" {
			sslmode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.portOr(5432), c.User, c.Password, c.Database, sslmode), nil
	case "snowflake":
		return fmt.Sprintf("%s:%s@%s/%s", c.User, c.Password, c.Account, c.Database), nil
	}
	return "", fmt.Errorf("unsupported database type: %s", c.Type)
}

func (c DatabaseConfig) portOr(def int) int {
	if c.Port == 0 {
		return def
	}
	return c.Port
}
