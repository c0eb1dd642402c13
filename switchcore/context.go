package switchcore

import (
	"container/heap"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/firesim/netswitch/baseport"
)

// Port is the capability set the switching core needs from a transport: the
// non-virtual parts live in an embedded baseport.Port, the rest
// (Send/Recv/TickPre/Tick) is transport-specific. ShmemPort, SocketPort and
// SSHPort (package transport) each embed *baseport.Port by value and
// implement this interface.
type Port interface {
	Base() *baseport.Port
	SetupSendBuf()
	Send() error
	Recv() error
	TickPre() error
	Tick() error
	WriteFlitsToOutput(iter baseport.IterationParams)
}

// Context bundles everything do_fast_switching used to read from file-scope
// globals: link/switch latency, the bandwidth throttle fraction, the port
// set, and the MAC routing table. It is constructed once by cmd/switch and
// is not safe for concurrent calls to Switch — callers must serialize
// windows, which the main loop does naturally.
type Context struct {
	Ports         []Port
	MacTable      *MacTable
	LinkLatency   int
	SwitchLatency int
	ThrottleNumer int
	ThrottleDenom int
	NumDownlinks  int

	ThisIterCyclesStart uint64

	seq uint64
}

// NewContext validates and constructs a Context. LinkLatency must be a
// positive multiple of geo.TokensPerBig, mirroring switch.cc's "must be a
// multiple of 7" check generalized to the configured geometry.
func NewContext(ports []Port, mt *MacTable, linkLatency, switchLatency, throttleNumer, throttleDenom, numDownlinks, tokensPerBig int) (*Context, error) {
	if linkLatency <= 0 || linkLatency%tokensPerBig != 0 {
		return nil, fmt.Errorf("switchcore: LINKLATENCY %d must be a positive multiple of %d", linkLatency, tokensPerBig)
	}
	if throttleNumer <= 0 || throttleDenom <= 0 || throttleNumer > throttleDenom {
		return nil, fmt.Errorf("switchcore: invalid throttle fraction %d/%d", throttleNumer, throttleDenom)
	}
	return &Context{
		Ports:         ports,
		MacTable:      mt,
		LinkLatency:   linkLatency,
		SwitchLatency: switchLatency,
		ThrottleNumer: throttleNumer,
		ThrottleDenom: throttleDenom,
		NumDownlinks:  numDownlinks,
	}, nil
}

func (c *Context) iterParams() baseport.IterationParams {
	return baseport.IterationParams{
		ThisIterCyclesStart: c.ThisIterCyclesStart,
		LinkLatency:         c.LinkLatency,
		ThrottleNumer:       c.ThrottleNumer,
		ThrottleDenom:       c.ThrottleDenom,
	}
}

// Switch runs one iteration of do_fast_switching: clear output buffers,
// reassemble every port's input in parallel, route serially through a
// single global min-heap (so cross-port delivery order matches ingress
// timestamp order), then drain every port's output queue in parallel.
//
// Phases 1 and 4 fan out one goroutine per port via errgroup, the direct
// analog of `#pragma omp parallel for`; an error from any port aborts the
// whole iteration instead of silently dropping it. Phases 2 and 3 are
// strictly serial — the heap is not safe for concurrent access, and the
// original demands this ordering too ("NO PARALLEL!").
func (c *Context) Switch() error {
	var eg errgroup.Group
	for _, port := range c.Ports {
		port := port
		eg.Go(func() error {
			port.SetupSendBuf()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	eg = errgroup.Group{}
	for _, port := range c.Ports {
		port := port
		eg.Go(func() error {
			return port.Base().ReassembleInput(c.ThisIterCyclesStart, c.SwitchLatency)
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	if err := c.route(); err != nil {
		return err
	}

	eg = errgroup.Group{}
	for _, port := range c.Ports {
		port := port
		eg.Go(func() error {
			port.WriteFlitsToOutput(c.iterParams())
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	c.ThisIterCyclesStart += uint64(c.LinkLatency)
	return nil
}

// route is the serial heart of do_fast_switching: drain every port's
// input queue into one global min-heap ordered by timestamp, then pop in
// order and push each packet onto its destination port's output queue —
// or, for a broadcast, onto every downlink and the first uplink (the
// original's loop bound is NUMDOWNLINKS + (NUMUPLINKS > 0 ? 1 : 0), which
// only ever reaches the zeroeth uplink; this is preserved verbatim rather
// than "fixed" to round-robin every uplink).
func (c *Context) route() error {
	var pq tsPacketHeap
	for _, port := range c.Ports {
		base := port.Base()
		for {
			pkt := base.InputQueue.PopFront()
			if pkt == nil {
				break
			}
			heap.Push(&pq, tsPacket{timestamp: pkt.Timestamp, seq: c.seq, pkt: pkt})
			c.seq++
		}
	}

	for pq.Len() > 0 {
		tp := heap.Pop(&pq).(tsPacket)
		pkt := tp.pkt

		if len(pkt.Dat) < 8 {
			return fmt.Errorf("switchcore: packet from sender %d shorter than one flit, cannot route", pkt.Sender)
		}
		macLow, broadcast := PortFromFlit(pkt.Dat[:8])

		if broadcast {
			addUplink := 0
			if c.numUplinks() > 0 {
				addUplink = 1
			}
			for i := 0; i < c.NumDownlinks+addUplink; i++ {
				if i == pkt.Sender {
					continue
				}
				c.Ports[i].Base().OutputQueue.PushBack(pkt.Clone())
			}
			continue
		}

		destPort, err := c.MacTable.Resolve(macLow)
		if err != nil {
			return err
		}
		if destPort < 0 || destPort >= len(c.Ports) {
			return fmt.Errorf("switchcore: mac-low %#04x resolved to out-of-range port %d", macLow, destPort)
		}
		c.Ports[destPort].Base().OutputQueue.PushBack(pkt)
	}
	return nil
}

func (c *Context) numUplinks() int {
	return len(c.Ports) - c.NumDownlinks
}
