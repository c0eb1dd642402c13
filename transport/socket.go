package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/firesim/netswitch/baseport"
	"github.com/firesim/netswitch/bigtoken"
)

// SocketPort moves one link-latency window of big-tokens per direction
// over a length-framed TCP stream: a uint32 big-endian byte count followed
// by that many bytes of window payload. It is the Go-idiomatic analog of
// BasePort's "socket" variant (spec §4.2), built in the connect/reader/
// writer goroutine shape used by the teacher's raw socket client. It
// connects once; after an I/O error it does not reconnect.
type SocketPort struct {
	*baseport.Port

	dialAddr   string
	listenAddr string

	connLock  sync.RWMutex
	conn      net.Conn
	connected bool

	sendChan chan []byte
	recvChan chan []byte
	errChan  chan error

	bufBytes int
	log      *logrus.Entry
}

// NewSocketPort constructs a socket transport. Exactly one of dialAddr or
// listenAddr should be non-empty: a downlink typically listens, an uplink
// dials out, mirroring the shmem variant's create-vs-attach asymmetry.
func NewSocketPort(id int, geo bigtoken.Geometry, dialAddr, listenAddr string, throttled bool, windowBigTokens int) (*SocketPort, error) {
	p := &SocketPort{
		Port:       baseport.NewPort(id, geo, throttled),
		dialAddr:   dialAddr,
		listenAddr: listenAddr,
		sendChan:   make(chan []byte, 1),
		recvChan:   make(chan []byte, 1),
		errChan:    make(chan error, 1),
		bufBytes:   geo.WindowBytes(windowBigTokens),
		log:        logrus.WithFields(logrus.Fields{"port": id, "transport": "socket"}),
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

	if err := p.connect(); err != nil {
		return nil, err
	}
	go p.reader()
	go p.writer()
	return p, nil
}

func (p *SocketPort) connect() error {
	p.connLock.Lock()
	defer p.connLock.Unlock()

	if p.listenAddr != "" {
		ln, err := net.Listen("tcp", p.listenAddr)
		if err != nil {
			return fmt.Errorf("transport: listen %s: %w", p.listenAddr, err)
		}
		conn, err := ln.Accept()
		ln.Close()
		if err != nil {
			return fmt.Errorf("transport: accept on %s: %w", p.listenAddr, err)
		}
		p.conn = conn
	} else {
		conn, err := net.Dial("tcp", p.dialAddr)
		if err != nil {
			return fmt.Errorf("transport: dial %s: %w", p.dialAddr, err)
		}
		p.conn = conn
	}
	p.connected = true
	return nil
}

func (p *SocketPort) reader() {
	var lenBuf [4]byte
	for {
		p.connLock.RLock()
		conn := p.conn
		p.connLock.RUnlock()

		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			p.handleIOError(err)
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(conn, payload); err != nil {
			p.handleIOError(err)
			return
		}
		p.recvChan <- payload
	}
}

func (p *SocketPort) writer() {
	for payload := range p.sendChan {
		p.connLock.RLock()
		conn := p.conn
		p.connLock.RUnlock()

		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
		if _, err := conn.Write(lenBuf[:]); err != nil {
			p.handleIOError(err)
			continue
		}
		if _, err := conn.Write(payload); err != nil {
			p.handleIOError(err)
		}
	}
}

func (p *SocketPort) handleIOError(err error) {
	p.connLock.Lock()
	p.connected = false
	p.connLock.Unlock()
	select {
	case p.errChan <- err:
	default:
	}
	p.log.WithError(err).Warn("socket transport I/O error")
}

// Send flushes CurrentOutputBuf's bytes as one length-framed message.
func (p *SocketPort) Send() error {
	frame := make([]byte, len(p.CurrentOutputBuf.Bytes()))
	copy(frame, p.CurrentOutputBuf.Bytes())
	select {
	case p.sendChan <- frame:
		return nil
	case err := <-p.errChan:
		return err
	}
}

// Recv blocks until one full window has arrived and copies it into
// CurrentInputBuf.
func (p *SocketPort) Recv() error {
	select {
	case payload := <-p.recvChan:
		if len(payload) != p.bufBytes {
			return fmt.Errorf("transport: socket port %d received %d bytes, want %d", p.ID, len(payload), p.bufBytes)
		}
		copy(p.CurrentInputBuf.Bytes(), payload)
		return nil
	case err := <-p.errChan:
		return err
	}
}

func (p *SocketPort) TickPre() error { return nil }
func (p *SocketPort) Tick() error    { return nil }

// Close tears down the underlying connection.
func (p *SocketPort) Close() error {
	p.connLock.Lock()
	defer p.connLock.Unlock()
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
