package baseport

import (
	"github.com/sirupsen/logrus"

	"github.com/firesim/netswitch/bigtoken"
)

// IterationParams carries the per-iteration simulation state that
// WriteFlitsToOutput needs but that no individual port owns: the current
// simulated cycle, the window size, and the bandwidth-throttle fraction.
// This is switchcore.Context's state, threaded in explicitly rather than
// read from a package global (§9's re-architecture note).
type IterationParams struct {
	ThisIterCyclesStart uint64
	LinkLatency         int
	ThrottleNumer       int
	ThrottleDenom       int
}

// Port holds the state shared by every transport variant: the current
// input/output big-token windows, the packet under reassembly, and the
// input/output FIFOs. Transport variants (package transport) embed a Port
// and add only the I/O-specific Send/Recv/Tick/TickPre methods — this is
// the Go replacement for the original's BasePort base class.
type Port struct {
	ID  int
	Geo bigtoken.Geometry

	// Throttled mirrors the original's `_throttle` flag: downlink ports
	// are bandwidth-throttled, uplink ports are not (BasePort(portNo,
	// !uplink) in shmemport.h).
	Throttled bool

	// OutputBufSize bounds the output queue's drain horizon in flits; 0
	// means unbounded (the LIMITED_BUFSIZE feature gate, off by default).
	OutputBufSize int

	CurrentInputBuf  bigtoken.Window
	CurrentOutputBuf bigtoken.Window

	InputInProgress *Packet
	InputQueue      *Queue
	OutputQueue     *Queue

	log *logrus.Entry
}

// NewPort constructs a Port with fresh, empty queues.
func NewPort(id int, geo bigtoken.Geometry, throttled bool) *Port {
	return &Port{
		ID:          id,
		Geo:         geo,
		Throttled:   throttled,
		InputQueue:  NewQueue(),
		OutputQueue: NewQueue(),
		log:         logrus.WithField("port", id),
	}
}

// Base returns p itself; it exists so that types embedding *Port satisfy
// an interface requiring access back to the shared state (switchcore
// operates on ports through such an interface, see switchcore.Port).
func (p *Port) Base() *Port { return p }

// SetupSendBuf zeroes the next outbound window so every valid/last bit
// starts cleared, matching BasePort::setup_send_buf.
func (p *Port) SetupSendBuf() {
	p.CurrentOutputBuf.Zero()
}

// WriteFlitsToOutput drains OutputQueue into CurrentOutputBuf, honoring
// timestamp eligibility, bandwidth throttling, and (if OutputBufSize > 0)
// a bounded output buffer — a direct port of BasePort::write_flits_to_output.
func (p *Port) WriteFlitsToOutput(iter IterationParams) {
	var flitsWritten uint64
	basetime := iter.ThisIterCyclesStart
	maxtime := iter.ThisIterCyclesStart + uint64(iter.LinkLatency)
	emptyBuf := true

	for {
		pkt := p.OutputQueue.Front()
		if pkt == nil {
			break
		}

		outputTimestamp := pkt.Timestamp
		if outputTimestamp >= maxtime {
			// Output queue is ordered by time; nothing else to write.
			break
		}

		if p.OutputBufSize > 0 {
			diff := int64(basetime+flitsWritten) - int64(outputTimestamp)
			if pkt.AmtRead == 0 && diff > int64(p.OutputBufSize) {
				if p.log != nil {
					p.log.WithFields(logrus.Fields{
						"intended_timestamp": outputTimestamp,
						"current_timestamp":  basetime + flitsWritten,
					}).Trace("output buffer overflow, dropping packet")
				}
				p.OutputQueue.PopFront()
				continue
			}
		}

		var timestampDiff uint64
		if outputTimestamp > basetime {
			timestampDiff = outputTimestamp - basetime
		}
		if timestampDiff > flitsWritten {
			flitsWritten = timestampDiff
		}

		i := pkt.AmtRead
		for i < pkt.AmtWritten && flitsWritten < uint64(iter.LinkLatency) {
			slot := int(flitsWritten)
			isLast := i == pkt.AmtWritten-1
			p.CurrentOutputBuf.WriteLastFlit(slot, isLast)
			p.CurrentOutputBuf.WriteValidFlit(slot)
			p.CurrentOutputBuf.WriteFlit(slot, pkt.Dat[i*p.Geo.FlitBytes:(i+1)*p.Geo.FlitBytes])
			emptyBuf = false

			switch {
			case !p.Throttled:
				flitsWritten++
			case (i+1)%iter.ThrottleNumer == 0:
				flitsWritten += uint64(iter.ThrottleDenom - iter.ThrottleNumer + 1)
			default:
				flitsWritten++
			}
			i++
		}

		if i == pkt.AmtWritten {
			p.OutputQueue.PopFront()
		} else {
			pkt.AmtRead = i
			break
		}
	}

	if emptyBuf {
		p.CurrentOutputBuf.MarkEmpty()
	}
}
