package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/resilientws/internal/config"
)

// ApplicationName is reported to the server as application_name.
const ApplicationName = "wsclient"

// BuildConnString builds a postgres:// URL from cfg. User and password are
// escaped so they may contain URL delimiters.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.Name,
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", ApplicationName)
	u.RawQuery = q.Encode()
	return u.String()
}
