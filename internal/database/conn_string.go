package database

import (
	"fmt"
	"net/url"

	"github.com/resonance-ai/relay/internal/config"
)

// BuildConnString builds a PostgreSQL URL from config. appName is reported
// to the server as application_name when set.
func BuildConnString(cfg config.DBConfig, appName string) string {
	q := url.Values{}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	q.Set("sslmode", sslMode)
	if appName != "" {
		q.Set("application_name", appName)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
