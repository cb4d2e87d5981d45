package sqlite

import (
	"fmt"

	"github.com/loykin/botexport/internal/constants"
)

const foreignKeysParam = "_fk=1"

type Config struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// DSN builds the modernc connection string; an empty path opens an in-memory database.
func (c *Config) DSN() string {
	if c == nil || c.Path == "" {
		return ":memory:"
	}
	return fmt.Sprintf("file:%s?_busy_timeout=%d&%s", c.Path, constants.DefaultSQLiteBusyTimeMs, foreignKeysParam)
}
