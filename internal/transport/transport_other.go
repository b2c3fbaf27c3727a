//go:build !linux

package transport

import (
	"net"
	"time"
)

const keepaliveInterval = 10 * time.Second

// tuneSocket sets TCP keepalive on platforms without TCP_USER_TIMEOUT.
func tuneSocket(conn *net.TCPConn) {
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(keepaliveInterval)
}
