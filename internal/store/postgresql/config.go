package postgresql

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/loykin/botexport/internal/constants"
)

type Config struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// ConnString prefers an explicit DSN; otherwise it is built from the host fields.
func (c *Config) ConnString() (string, error) {
	if dsn := strings.TrimSpace(c.DSN); dsn != "" {
		return dsn, nil
	}
	host := strings.TrimSpace(c.Host)
	if host == "" {
		return "", fmt.Errorf("postgresql: dsn or host is required")
	}
	port := c.Port
	if port == 0 {
		port = constants.DefaultPostgresPort
	}
	ssl := strings.TrimSpace(c.SSLMode)
	if ssl == "" {
		ssl = constants.DefaultPostgresSSLMode
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(strings.TrimSpace(c.User), c.Password),
		Host:     fmt.Sprintf("%s:%d", host, port),
		Path:     "/" + strings.TrimSpace(c.DBName),
		RawQuery: "sslmode=" + url.QueryEscape(ssl),
	}
	return u.String(), nil
}
