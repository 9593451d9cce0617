package ssh

import (
	"fmt"
	"net"
	"strconv"
)

// DefaultPort is used when a key is built with port 0.
const DefaultPort = 22

// Key identifies a pooled session: the remote endpoint plus the principal
// authenticated on it. Two keys are equal when all three fields are equal.
type Key struct {
	Host string
	Port int
	User string
}

// NewKey builds a Key, defaulting the port to 22.
func NewKey(host string, port int, user string) Key {
	if port == 0 {
		port = DefaultPort
	}
	return Key{Host: host, Port: port, User: user}
}

// Addr returns host:port suitable for dialing.
func (k Key) Addr() string {
	return net.JoinHostPort(k.Host, strconv.Itoa(k.Port))
}

// String renders the key as user@host:port.
func (k Key) String() string {
	return fmt.Sprintf("%s@%s", k.User, k.Addr())
}

// Validate checks that the key can address a remote endpoint.
func (k Key) Validate() error {
	if k.Host == "" {
		return fmt.Errorf("host is required")
	}
	if k.User == "" {
		return fmt.Errorf("user is required")
	}
	if k.Port <= 0 || k.Port > 65535 {
		return fmt.Errorf("invalid port %d", k.Port)
	}
	return nil
}
