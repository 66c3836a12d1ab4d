// Package transport owns the two UDP endpoints every server binds: a
// unicast socket for peer/client traffic and a multicast socket for
// discovery beacons, crash notices and leader queries.
package transport

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/votecast/coordinator-service/internal/wire"
)

// recvTimeout bounds every blocking read so loops can poll a shutdown
// signal between receives (spec.md §5, "Suspension/blocking points").
const recvTimeout = 1 * time.Second

// Datagram is one received UDP packet paired with its sender address.
type Datagram struct {
	Data []byte
	Addr *net.UDPAddr
}

// Transport wraps the unicast and multicast UDP sockets for one server.
type Transport struct {
	log *zap.Logger

	self     *net.UDPConn
	mcast    *net.UDPConn
	mcastTo  *net.UDPAddr
}

// LocalIP opens a throwaway UDP socket to a public address to learn which
// local interface address the OS would route through, without sending any
// traffic. This mirrors spec.md §6 ("derives its host by opening a
// scratch UDP socket and reading the local endpoint").
func LocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("transport: resolve local ip: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// New binds the unicast socket to host:port and joins the multicast group
// mcastAddr (e.g. "224.1.1.1:5007").
func New(log *zap.Logger, host string, port int, mcastAddr string) (*Transport, error) {
	selfAddr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	self, err := net.ListenUDP("udp4", selfAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind unicast %s: %w", selfAddr, err)
	}

	mAddr, err := net.ResolveUDPAddr("udp4", mcastAddr)
	if err != nil {
		self.Close()
		return nil, fmt.Errorf("transport: resolve multicast addr %s: %w", mcastAddr, err)
	}

	mcast, err := net.ListenMulticastUDP("udp4", nil, mAddr)
	if err != nil {
		self.Close()
		return nil, fmt.Errorf("transport: join multicast %s: %w", mAddr, err)
	}

	return &Transport{log: log, self: self, mcast: mcast, mcastTo: mAddr}, nil
}

// LocalAddr is this server's bound unicast host:port.
func (t *Transport) LocalAddr() string {
	return t.self.LocalAddr().String()
}

// Close releases both sockets.
func (t *Transport) Close() {
	t.self.Close()
	t.mcast.Close()
}

// Send unicasts a structured Message to addr.
func (t *Transport) Send(addr string, m *wire.Message) error {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	b, err := wire.Encode(m)
	if err != nil {
		return err
	}
	_, err = t.self.WriteToUDP(b, udpAddr)
	return err
}

// SendRaw unicasts raw bytes (used for the "LEADER:<id>" reply to
// WHO_IS_LEADER, which travels on the unicast socket back to the querying
// address).
func (t *Transport) SendRaw(addr *net.UDPAddr, line string) error {
	_, err := t.self.WriteToUDP([]byte(line), addr)
	return err
}

// Beacon sends a plain-text line to the multicast group (SERVER:<id>,
// CRASH:<id>, WHO_IS_LEADER).
func (t *Transport) Beacon(line string) error {
	_, err := t.mcast.WriteToUDP([]byte(line), t.mcastTo)
	return err
}

// RecvUnicast blocks up to recvTimeout for one datagram on the unicast
// socket. A nil Datagram with nil error indicates a timeout; callers
// should loop back to their shutdown check.
func (t *Transport) RecvUnicast() (*Datagram, error) {
	return recv(t.self)
}

// RecvMulticast blocks up to recvTimeout for one datagram on the
// multicast socket.
func (t *Transport) RecvMulticast() (*Datagram, error) {
	return recv(t.mcast)
}

func recv(conn *net.UDPConn) (*Datagram, error) {
	buf := make([]byte, wire.BUF)
	if err := conn.SetReadDeadline(time.Now().Add(recvTimeout)); err != nil {
		return nil, fmt.Errorf("transport: set read deadline: %w", err)
	}
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	data := make([]byte, n)
	copy(data, buf[:n])
	return &Datagram{Data: data, Addr: addr}, nil
}
