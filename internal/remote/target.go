package remote

import (
	"fmt"
	"net"
	"os/user"
	"strconv"
	"strings"

	"github.com/Iron-Ham/rollout/internal/errors"
)

// Target identifies one SSH endpoint.
type Target struct {
	User string
	Host string
	Port int
}

// ParseTarget parses "[user@]host[:port]". Missing parts fall back to
// defaultUser, the current OS user, and defaultPort in that order.
func ParseTarget(spec, defaultUser string, defaultPort int) (Target, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Target{}, errors.NewValidationError("host is empty").WithField("hosts")
	}

	t := Target{User: defaultUser, Port: defaultPort}
	if at := strings.LastIndex(spec, "@"); at >= 0 {
		t.User = spec[:at]
		spec = spec[at+1:]
	}

	host, port, err := net.SplitHostPort(spec)
	if err != nil {
		// No port present; bracketed IPv6 literals are unwrapped.
		host = strings.TrimSuffix(strings.TrimPrefix(spec, "["), "]")
	} else {
		p, convErr := strconv.Atoi(port)
		if convErr != nil || p < 1 || p > 65535 {
			return Target{}, errors.NewValidationError("invalid port").WithField("hosts").WithValue(port)
		}
		t.Port = p
	}
	if host == "" {
		return Target{}, errors.NewValidationError("host is empty").WithField("hosts").WithValue(spec)
	}
	t.Host = host

	if t.User == "" {
		if u, err := user.Current(); err == nil {
			t.User = u.Username
		}
	}
	if t.Port == 0 {
		t.Port = 22
	}
	return t, nil
}

// Addr returns host:port for dialing.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String returns the target in user@host form, with the port when it is not 22.
func (t Target) String() string {
	host := t.Host
	if t.Port != 22 {
		host = t.Addr()
	}
	if t.User == "" {
		return host
	}
	return fmt.Sprintf("%s@%s", t.User, host)
}
