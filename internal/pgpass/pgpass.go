// Package pgpass writes a scoped, process-local .pgpass file so that
// pg_dump/pg_dumpall/pg_restore subprocesses authenticate without a
// password ever appearing on the command line or in process listings.
package pgpass

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/pgbridge/pgbridge/internal/errkind"
)

// File is a temporary .pgpass file scoped to one subprocess invocation.
// Callers should Remove it once the subprocess exits.
type File struct {
	path string
}

// fieldEscape escapes ':' and '\' per the .pgpass format (man 5 pgpass).
func fieldEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `:`, `\:`)
	return s
}

// New writes a .pgpass file granting access to host:port:database:user
// with the given password, permissions 0600 (required by libpq, which
// refuses to read a .pgpass file that is group- or world-readable).
func New(host string, port int, database, user, password string) (*File, error) {
	f, err := os.CreateTemp("", "pgbridge-pgpass-*.conf")
	if err != nil {
		return nil, errkind.New(errkind.Io, "failed to create pgpass file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s:%d:%s:%s:%s\n",
		fieldEscape(host), port, fieldEscape(database), fieldEscape(user), fieldEscape(password))
	if _, err := f.WriteString(line); err != nil {
		os.Remove(f.Name())
		return nil, errkind.New(errkind.Io, "failed to write pgpass file: %w", err)
	}
	if err := f.Chmod(0o600); err != nil {
		os.Remove(f.Name())
		return nil, errkind.New(errkind.Io, "failed to set pgpass file permissions: %w", err)
	}

	return &File{path: f.Name()}, nil
}

// Path returns the filesystem path suitable for the PGPASSFILE env var.
func (f *File) Path() string { return f.path }

// Remove deletes the pgpass file.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errkind.New(errkind.Io, "failed to remove pgpass file %s: %w", f.path, err)
	}
	return nil
}

// URLParts is the subset of a postgres URL needed to build a pgpass entry
// and PG* environment variables for a dump/restore subprocess.
type URLParts struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// ParseForSubprocess parses a postgres(ql):// URL, retaining the password
// (unlike idvalidate.ParsePostgresURL, which discards it for safe logging)
// since it is only ever written to a 0600 pgpass file or passed as an env
// var, never logged.
func ParseForSubprocess(rawURL string) (URLParts, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return URLParts{}, errkind.New(errkind.InvalidConfig, "failed to parse connection URL: %w", err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return URLParts{}, errkind.New(errkind.InvalidConfig, "expected postgres:// or postgresql:// scheme, got %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	port := 5432
	if p := parsed.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return URLParts{}, errkind.New(errkind.InvalidConfig, "invalid port %q: %w", p, err)
		}
		port = n
	}

	database := strings.TrimPrefix(parsed.Path, "/")
	if database == "" {
		return URLParts{}, errkind.New(errkind.InvalidConfig, "missing database name in URL")
	}

	user := ""
	password := ""
	if parsed.User != nil {
		user = parsed.User.Username()
		password, _ = parsed.User.Password()
	}

	return URLParts{
		Host:     host,
		Port:     port,
		Database: database,
		User:     user,
		Password: password,
		SSLMode:  parsed.Query().Get("sslmode"),
	}, nil
}

// WithDatabase returns rawURL with its database path segment replaced by
// database, leaving host, port, credentials, and query parameters intact.
// The orchestrator uses this to point a single cluster-level connection
// string at each database in turn during a per-database pass.
func WithDatabase(rawURL, database string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", errkind.New(errkind.InvalidConfig, "failed to parse connection URL: %w", err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return "", errkind.New(errkind.InvalidConfig, "expected postgres:// or postgresql:// scheme, got %q", parsed.Scheme)
	}
	parsed.Path = "/" + database
	return parsed.String(), nil
}

// EnvVars returns the PG* environment variable assignments a subprocess
// needs beyond PGPASSFILE: PGSSLMODE when the URL specified one. No other
// URL query parameter is passed on as an environment variable.
func (p URLParts) EnvVars() []string {
	var env []string
	if p.SSLMode != "" {
		env = append(env, "PGSSLMODE="+p.SSLMode)
	}
	return env
}
