package common

import (
	"net/url"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gosqlmysql "github.com/go-sql-driver/mysql"
)

// NormalizeMySQLDSN accepts either a go-sql-driver DSN or a mysql:// URL and returns a
// driver DSN with parseTime=true. Report timestamps are stored in UTC unless the DSN names a loc.
func NormalizeMySQLDSN(dsn string) (string, error) {
	raw := dsn
	if strings.HasPrefix(strings.ToLower(dsn), "mysql://") {
		converted, err := mysqlURLToDSN(dsn)
		if err != nil {
			return "", errors.Wrap(err, "convert MySQL URL")
		}
		raw = converted
	}

	cfg, err := gosqlmysql.ParseDSN(raw)
	if err != nil {
		return "", errors.Wrap(err, "parse MySQL DSN")
	}
	cfg.ParseTime = true
	if !hasQueryKey(raw, "loc") {
		cfg.Loc = time.UTC
	}

	return cfg.FormatDSN(), nil
}

func mysqlURLToDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", errors.Wrap(err, "parse mysql:// DSN")
	}
	if u.Host == "" {
		return "", errors.New("mysql DSN missing host")
	}

	cfg := gosqlmysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}

	out := cfg.FormatDSN()
	if u.RawQuery != "" {
		if strings.Contains(out, "?") {
			out += "&" + u.RawQuery
		} else {
			out += "?" + u.RawQuery
		}
	}
	return out, nil
}

func hasQueryKey(dsn, key string) bool {
	_, query, ok := strings.Cut(dsn, "?")
	if !ok {
		return false
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return false
	}
	_, ok = values[key]
	return ok
}
