// Package transport provides the concrete port variants the switch and NIC
// endpoint run over: POSIX shared memory, length-framed TCP sockets, and
// SSH-tunneled sockets. Each variant embeds a *baseport.Port and adds only
// the I/O-specific Send/Recv/TickPre/Tick methods, satisfying
// switchcore.Port through embedding and method promotion.
package transport

import (
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/firesim/netswitch/baseport"
	"github.com/firesim/netswitch/bigtoken"
)

// shmDir is where POSIX shared-memory objects live on Linux; shm_open
// itself has no cgo-free wrapper in golang.org/x/sys/unix, so regions are
// opened as ordinary files under the tmpfs-backed shm mount, exactly the
// kernel-level target shm_open resolves to.
const shmDir = "/dev/shm"

// ShmemPort is the host<->host double-buffered shared-memory transport,
// grounded on shmemport.h: two named regions per direction ("nts" and
// "stn"), one per ping-pong slot (suffix _0 and _1), each holding one
// window plus one trailing ready-sentinel byte.
type ShmemPort struct {
	*baseport.Port

	recvRegions [2][]byte
	sendRegions [2][]byte
	bufBytes    int
	currentRound int
	uplink      bool
	log         *logrus.Entry
}

// NewShmemPort creates or attaches to the shared-memory regions for one
// port. A downlink creates and truncates its regions (it owns the
// lifetime); an uplink only attaches, retrying indefinitely until the
// downlink side has created them — matching the original's "uplink does
// not truncate, retries shm_open with a 1s backoff" behavior.
func NewShmemPort(id int, geo bigtoken.Geometry, shmemName string, uplink bool, windowBigTokens int) (*ShmemPort, error) {
	bufBytes := geo.WindowBytes(windowBigTokens)

	var recvDir, sendDir string
	if uplink {
		recvDir, sendDir = "stn", "nts"
	} else {
		recvDir, sendDir = "nts", "stn"
	}

	p := &ShmemPort{
		Port:     baseport.NewPort(id, geo, !uplink),
		bufBytes: bufBytes,
		uplink:   uplink,
		log:      logrus.WithFields(logrus.Fields{"port": id, "transport": "shmem"}),
	}

	for j := 0; j < 2; j++ {
		recvName := fmt.Sprintf("port_%s%s_%d", recvDir, shmemPortSuffix(shmemName, id), j)
		region, err := openShmRegion(recvName, bufBytes, uplink)
		if err != nil {
			return nil, fmt.Errorf("transport: opening recv region %s: %w", recvName, err)
		}
		p.recvRegions[j] = region

		sendName := fmt.Sprintf("port_%s%s_%d", sendDir, shmemPortSuffix(shmemName, id), j)
		region, err = openShmRegion(sendName, bufBytes, uplink)
		if err != nil {
			return nil, fmt.Errorf("transport: opening send region %s: %w", sendName, err)
		}
		p.sendRegions[j] = region
	}

	if err := p.assignWindows(); err != nil {
		return nil, err
	}
	return p, nil
}

func shmemPortSuffix(shmemName string, id int) string {
	if shmemName != "" {
		return shmemName
	}
	return fmt.Sprintf("%d", id)
}

// openShmRegion opens (and for a downlink, creates/truncates) a
// bufBytes+1-byte shared region and maps it. The trailing byte is the
// ready sentinel.
func openShmRegion(name string, bufBytes int, uplink bool) ([]byte, error) {
	path := shmDir + "/" + name
	flags := unix.O_RDWR
	if !uplink {
		flags |= unix.O_CREAT | unix.O_TRUNC
	}

	var fd int
	var err error
	for {
		fd, err = unix.Open(path, flags, 0700)
		if err == nil {
			break
		}
		if !uplink {
			return nil, fmt.Errorf("shm_open %s: %w", path, err)
		}
		logrus.WithError(err).WithField("path", path).Warn("shm_open failed, retrying in 1s")
		time.Sleep(time.Second)
	}
	defer unix.Close(fd)

	size := bufBytes + 1
	if !uplink {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			return nil, fmt.Errorf("ftruncate %s: %w", path, err)
		}
	}

	region, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	if !uplink {
		for i := range region {
			region[i] = 0
		}
	}
	return region, nil
}

func (p *ShmemPort) assignWindows() error {
	inW, err := bigtoken.NewWindow(p.Port.Geo, p.recvRegions[p.currentRound][:p.bufBytes])
	if err != nil {
		return err
	}
	outW, err := bigtoken.NewWindow(p.Port.Geo, p.sendRegions[0][:p.bufBytes])
	if err != nil {
		return err
	}
	p.SetInputBuf(inW)
	p.SetOutputBuf(outW)
	return nil
}

func (p *ShmemPort) recvSentinel() *byte { return &p.recvRegions[p.currentRound][p.bufBytes] }
func (p *ShmemPort) sendSentinel() *byte { return &p.sendRegions[p.currentRound][p.bufBytes] }

// Send clears any empty-buffer marker (this transport doesn't compress, so
// the marker would otherwise be misread as payload) then raises the send
// sentinel.
func (p *ShmemPort) Send() error {
	p.CurrentOutputBuf.ClearEmptyMarker()
	*p.sendSentinel() = 1
	return nil
}

// Recv busy-polls the receive sentinel until the peer has filled the
// buffer. This is the simulator's sole intentional spin point; the
// lockstep model forbids timing out here.
func (p *ShmemPort) Recv() error {
	sentinel := p.recvSentinel()
	for *sentinel == 0 {
		runtime.Gosched()
	}
	return nil
}

// TickPre advances to the next output slot before this iteration's switch
// pass writes into it.
func (p *ShmemPort) TickPre() error {
	p.currentRound = (p.currentRound + 1) % 2
	outW, err := bigtoken.NewWindow(p.Port.Geo, p.sendRegions[p.currentRound][:p.bufBytes])
	if err != nil {
		return err
	}
	p.SetOutputBuf(outW)
	return nil
}

// Tick clears the just-consumed receive sentinel (the round active before
// this iteration's TickPre flip) and rotates the input window to the same
// round TickPre already rotated the output window to, so both bufs track
// the one shared ping-pong counter the way the original's single
// `currentround` field does.
func (p *ShmemPort) Tick() error {
	oldRound := 1 - p.currentRound
	p.recvRegions[oldRound][p.bufBytes] = 0

	inW, err := bigtoken.NewWindow(p.Port.Geo, p.recvRegions[p.currentRound][:p.bufBytes])
	if err != nil {
		return err
	}
	p.SetInputBuf(inW)
	return nil
}

// Close unmaps every region. Unlinking the backing shm files remains the
// outer driver's responsibility (§6).
func (p *ShmemPort) Close() error {
	var firstErr error
	for j := 0; j < 2; j++ {
		if err := unix.Munmap(p.recvRegions[j]); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := unix.Munmap(p.sendRegions[j]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
