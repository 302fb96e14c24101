package datastore

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Credentials locate a PostgreSQL server and the database to talk to.
//
// Credentials are passed by value. Builds that run concurrently each take
// their own copy through WithDatabase, so setting the database name for one
// build never leaks into another.
type Credentials struct {
	Hostname string `mapstructure:"hostname"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// WithDatabase returns a copy of c targeting database name.
func (c Credentials) WithDatabase(name string) Credentials {
	c.Database = name
	return c
}

// DSN renders c as a postgres:// connection URL understood by both pgx and lib/pq.
func (c Credentials) DSN() string {
	u := c.url()
	return u.String()
}

// Redacted returns the DSN with the password masked, for logs and errors.
func (c Credentials) Redacted() string {
	u := c.url()
	return u.Redacted()
}

func (c Credentials) url() *url.URL {
	u := &url.URL{
		Scheme: "postgres",
		Host:   c.hostPort(),
		Path:   "/" + c.Database,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	} else if c.Username != "" {
		u.User = url.User(c.Username)
	}

	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u.RawQuery = url.Values{"sslmode": {sslmode}}.Encode()

	return u
}

func (c Credentials) hostPort() string {
	host := c.Hostname
	if host == "" {
		host = "localhost"
	}
	if c.Port == 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

func (c Credentials) String() string {
	return fmt.Sprintf("%s@%s/%s", c.Username, c.hostPort(), c.Database)
}
