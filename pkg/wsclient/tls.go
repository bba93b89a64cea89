package wsclient

import (
	"crypto/tls"
	"net"
)

// tlsDial opens a TLS connection for wss:// handshakes.
func tlsDial(hostPort string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(hostPort)
	if err != nil {
		host = hostPort
	}
	return tls.Dial("tcp", hostPort, &tls.Config{ServerName: host})
}
