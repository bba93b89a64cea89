// Package wsclient implements the client side of RFC 6455 by hand, over an
// HTTP-upgraded byte stream, with no extensions and no fragmentation.
// It exists because the cloud TTS endpoint's DRM-token handshake
// needs direct control over the upgrade request and raw frame bytes that a
// full-featured WebSocket library would hide; every other WS user in this
// codebase (the first-party Lokutor TTS adapter) keeps using
// github.com/coder/websocket instead.
package wsclient

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Opcode is an RFC 6455 frame opcode.
type Opcode byte

const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
)

// MaxPayload caps a single frame's payload at 10 MiB to bound memory.
const MaxPayload = 10 * 1024 * 1024

// Frame is one decoded WebSocket frame.
type Frame struct {
	Opcode  Opcode
	Payload []byte
}

// Conn is a minimal RFC 6455 client connection over a raw, already
// HTTP-upgraded byte stream.
type Conn struct {
	rw     io.ReadWriter
	reader *bufio.Reader
}

// Dial performs the HTTP upgrade handshake against rawURL and returns a
// Conn wrapping the upgraded connection. extraHeaders lets callers set
// vendor-specific Origin/User-Agent headers alongside the mandatory
// upgrade headers.
func Dial(rawURL string, extraHeaders http.Header) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	hostPort := u.Host
	if !strings.Contains(hostPort, ":") {
		if u.Scheme == "wss" || u.Scheme == "https" {
			hostPort += ":443"
		} else {
			hostPort += ":80"
		}
	}

	rawConn, err := dialTransport(u.Scheme, hostPort)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", hostPort, err)
	}

	key, err := randomWSKey()
	if err != nil {
		rawConn.Close()
		return nil, err
	}

	req := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Path: u.RequestURI()},
		Host:   u.Host,
		Header: http.Header{},
		Proto:  "HTTP/1.1", ProtoMajor: 1, ProtoMinor: 1,
	}
	for k, vs := range extraHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", key)
	req.Header.Set("Sec-WebSocket-Version", "13")

	if err := req.Write(rawConn); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("write handshake: %w", err)
	}

	reader := bufio.NewReader(rawConn)
	resp, err := http.ReadResponse(reader, req)
	if err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("read handshake response: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		rawConn.Close()
		return nil, fmt.Errorf("websocket upgrade failed: HTTP %d", resp.StatusCode)
	}

	return &Conn{rw: rawConn, reader: reader}, nil
}

// dialTransport is overridable in tests so Dial can be exercised over an
// in-memory pipe instead of a real TLS/TCP connection.
var dialTransport = func(scheme, hostPort string) (net.Conn, error) {
	if scheme == "wss" || scheme == "https" {
		return tlsDial(hostPort)
	}
	return net.Dial("tcp", hostPort)
}

func randomWSKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate websocket key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// WriteFrame writes a single masked client->server frame: FIN set, the
// given opcode, a length tag (7-bit, 16-bit, or 64-bit big-endian per
// RFC 6455 §5.2), a 4-byte masking key, and the XOR-masked payload.
func (c *Conn) WriteFrame(opcode Opcode, payload []byte) error {
	var header []byte
	header = append(header, 0x80|byte(opcode))

	maskKey := make([]byte, 4)
	if _, err := rand.Read(maskKey); err != nil {
		return fmt.Errorf("generate mask key: %w", err)
	}

	n := len(payload)
	switch {
	case n < 126:
		header = append(header, 0x80|byte(n))
	case n <= 0xFFFF:
		header = append(header, 0x80|126)
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(n))
		header = append(header, lenBuf[:]...)
	default:
		header = append(header, 0x80|127)
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(n))
		header = append(header, lenBuf[:]...)
	}
	header = append(header, maskKey...)

	masked := make([]byte, n)
	for i := 0; i < n; i++ {
		masked[i] = payload[i] ^ maskKey[i%4]
	}

	if _, err := c.rw.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if n > 0 {
		if _, err := c.rw.Write(masked); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// WriteText sends a UTF-8 text frame.
func (c *Conn) WriteText(s string) error { return c.WriteFrame(OpcodeText, []byte(s)) }

// ReadFrame reads and unmasks (if masked) a single frame. Server frames
// should not be masked per RFC 6455 but the mask bit is tolerated. Ping
// frames are answered with a Pong automatically; Continuation frames are
// returned as-is since this client does not fragment or reassemble.
func (c *Conn) ReadFrame() (Frame, error) {
	head := make([]byte, 2)
	if _, err := io.ReadFull(c.reader, head); err != nil {
		return Frame{}, fmt.Errorf("read frame header: %w", err)
	}
	opcode := Opcode(head[0] & 0x0F)
	masked := head[1]&0x80 != 0
	lenTag := head[1] & 0x7F

	var length uint64
	switch {
	case lenTag < 126:
		length = uint64(lenTag)
	case lenTag == 126:
		var buf [2]byte
		if _, err := io.ReadFull(c.reader, buf[:]); err != nil {
			return Frame{}, fmt.Errorf("read extended length: %w", err)
		}
		length = uint64(binary.BigEndian.Uint16(buf[:]))
	default:
		var buf [8]byte
		if _, err := io.ReadFull(c.reader, buf[:]); err != nil {
			return Frame{}, fmt.Errorf("read extended length: %w", err)
		}
		length = binary.BigEndian.Uint64(buf[:])
	}
	if length > MaxPayload {
		return Frame{}, fmt.Errorf("frame payload %d exceeds cap %d", length, MaxPayload)
	}

	var maskKey [4]byte
	if masked {
		if _, err := io.ReadFull(c.reader, maskKey[:]); err != nil {
			return Frame{}, fmt.Errorf("read mask key: %w", err)
		}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return Frame{}, fmt.Errorf("read payload: %w", err)
	}
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}

	switch opcode {
	case OpcodePing:
		_ = c.WriteFrame(OpcodePong, payload)
		return Frame{Opcode: OpcodePing, Payload: payload}, nil
	case OpcodePong:
		return Frame{Opcode: OpcodePong, Payload: payload}, nil
	case OpcodeClose:
		return Frame{Opcode: OpcodeClose, Payload: payload}, nil
	default:
		return Frame{Opcode: opcode, Payload: payload}, nil
	}
}

// Close releases the underlying connection.
func (c *Conn) Close() error {
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
