package domain

import "net"

// Upstream identifies a backend by host:port. Identity is the semaphore key
// and metric label used throughout the proxy.
type Upstream struct {
	Host string
	Port string
}

// Identity returns the "host:port" string used as the C4 semaphore key and
// the C5 metric label.
func (u Upstream) Identity() string {
	return net.JoinHostPort(u.Host, u.Port)
}

func (u Upstream) String() string {
	return u.Identity()
}
