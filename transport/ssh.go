package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/firesim/netswitch/baseport"
	"github.com/firesim/netswitch/bigtoken"
)

// SSHPort is the "socket over a tunneled channel" variant (spec §4.2): the
// same length-framed big-token window protocol as SocketPort, carried over
// a channel dialed through an established SSH connection (`ssh.Client.Dial`,
// the client-side equivalent of a `-L`/`-R` port forward) instead of a bare
// TCP socket. It shares SocketPort's framing so the two are interchangeable
// from the switch core's point of view.
type SSHPort struct {
	*baseport.Port

	client     *ssh.Client
	remoteAddr string

	connLock sync.RWMutex
	conn     net.Conn

	sendChan chan []byte
	recvChan chan []byte
	errChan  chan error

	bufBytes int
	log      *logrus.Entry
}

// SSHConfig carries the parameters needed to establish the tunnel; it is a
// plain struct rather than an embedded *ssh.ClientConfig. cmd/switch fills
// it from a topology.PortTransport entry, loading the key and known_hosts
// files named there into AuthMethod and HostKeyCB.
type SSHConfig struct {
	Host       string
	User       string
	HostKeyCB  ssh.HostKeyCallback
	AuthMethod ssh.AuthMethod
	RemoteAddr string // address the switch-side process is listening on, reached through the tunnel
}

// NewSSHPort dials host, opens one tunneled channel to RemoteAddr, and
// starts the reader/writer goroutines.
func NewSSHPort(id int, geo bigtoken.Geometry, cfg SSHConfig, throttled bool, windowBigTokens int) (*SSHPort, error) {
	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{cfg.AuthMethod},
		HostKeyCallback: cfg.HostKeyCB,
	}

	client, err := ssh.Dial("tcp", cfg.Host, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("transport: ssh dial %s: %w", cfg.Host, err)
	}

	conn, err := client.Dial("tcp", cfg.RemoteAddr)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("transport: ssh tunnel to %s: %w", cfg.RemoteAddr, err)
	}

	p := &SSHPort{
		Port:       baseport.NewPort(id, geo, throttled),
		client:     client,
		remoteAddr: cfg.RemoteAddr,
		conn:       conn,
		sendChan:   make(chan []byte, 1),
		recvChan:   make(chan []byte, 1),
		errChan:    make(chan error, 1),
		bufBytes:   geo.WindowBytes(windowBigTokens),
		log:        logrus.WithFields(logrus.Fields{"port": id, "transport": "ssh"}),
	}

	inBuf := make([]byte, p.bufBytes)
	outBuf := make([]byte, p.bufBytes)
	inW, err := bigtoken.NewWindow(geo, inBuf)
	if err != nil {
		return nil, err
	}
	outW, err := bigtoken.NewWindow(geo, outBuf)
	if err != nil {
		return nil, err
	}
	p.SetInputBuf(inW)
	p.SetOutputBuf(outW)

	go p.reader()
	go p.writer()
	return p, nil
}

func (p *SSHPort) reader() {
	var lenBuf [4]byte
	for {
		p.connLock.RLock()
		conn := p.conn
		p.connLock.RUnlock()

		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			p.reportErr(err)
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(conn, payload); err != nil {
			p.reportErr(err)
			return
		}
		p.recvChan <- payload
	}
}

func (p *SSHPort) writer() {
	for payload := range p.sendChan {
		p.connLock.RLock()
		conn := p.conn
		p.connLock.RUnlock()

		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
		if _, err := conn.Write(lenBuf[:]); err != nil {
			p.reportErr(err)
			continue
		}
		if _, err := conn.Write(payload); err != nil {
			p.reportErr(err)
		}
	}
}

func (p *SSHPort) reportErr(err error) {
	p.log.WithError(err).Warn("ssh tunnel I/O error")
	select {
	case p.errChan <- err:
	default:
	}
}

func (p *SSHPort) Send() error {
	frame := make([]byte, len(p.CurrentOutputBuf.Bytes()))
	copy(frame, p.CurrentOutputBuf.Bytes())
	select {
	case p.sendChan <- frame:
		return nil
	case err := <-p.errChan:
		return err
	}
}

func (p *SSHPort) Recv() error {
	select {
	case payload := <-p.recvChan:
		if len(payload) != p.bufBytes {
			return fmt.Errorf("transport: ssh port %d received %d bytes, want %d", p.ID, len(payload), p.bufBytes)
		}
		copy(p.CurrentInputBuf.Bytes(), payload)
		return nil
	case err := <-p.errChan:
		return err
	}
}

func (p *SSHPort) TickPre() error { return nil }
func (p *SSHPort) Tick() error    { return nil }

// Close tears down the tunneled channel and the underlying SSH connection.
func (p *SSHPort) Close() error {
	p.connLock.Lock()
	defer p.connLock.Unlock()
	connErr := p.conn.Close()
	clientErr := p.client.Close()
	if connErr != nil {
		return connErr
	}
	return clientErr
}
