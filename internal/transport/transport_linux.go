package transport

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// keepaliveInterval and userTimeoutMillis tune the raw socket so the kernel
// itself gives up on a dead relay (network partition, box rebooted without
// a FIN) instead of relying on the OS defaults. Both limits are longer than
// the connection controller's 5s response timeout.
const (
	keepaliveInterval = 10 * time.Second
	userTimeoutMillis = 30000
)

// tuneSocket sets TCP keepalive and TCP_USER_TIMEOUT on conn's underlying
// file descriptor. Failures are not fatal to the dial: a relay connection
// without these options tuned still works, just with the OS defaults for
// detecting a dead peer.
func tuneSocket(conn *net.TCPConn) {
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(keepaliveInterval)

	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	raw.Control(func(fd uintptr) {
		unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, userTimeoutMillis)
	})
}
