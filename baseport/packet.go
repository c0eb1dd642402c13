// Package baseport holds the state and algorithms shared by every port
// transport variant: the in-flight packet representation, the per-port
// input/output queues, and the timestamp- and bandwidth-gated drain into an
// outbound big-token window. Individual transports (package transport)
// embed a Port and supply only send/recv/tick/tick_pre.
package baseport

import "fmt"

// EthMaxWords and EthExtraFlits together bound how many flits a single
// reassembled packet may hold: a standard Ethernet MTU frame (1518 bytes)
// rounded up to 8-byte flit words, plus a little slack for jumbo/malformed
// frames the simulated fabric still has to carry without truncation.
const (
	EthMaxWords   = 190
	EthExtraFlits = 16
	MaxPacketFlits = EthMaxWords + EthExtraFlits
)

// Packet is a packet under reassembly or in flight inside the switch. It is
// the Go name for the original's switchpacket struct.
type Packet struct {
	// Timestamp is the simulated cycle at which this packet becomes
	// eligible for egress: ingress cycle + switching latency.
	Timestamp uint64
	// Sender is the ingress port id.
	Sender int
	// Dat holds the packet's flits back to back, FlitBytes each.
	Dat []byte
	// AmtWritten is how many flits have been written into Dat so far
	// (monotonic during reassembly).
	AmtWritten int
	// AmtRead is how many of AmtWritten flits have already been emitted
	// on egress (monotonic during draining).
	AmtRead int
}

// Clone returns a deep copy of p, used for broadcast fan-out where the same
// logical packet is delivered to more than one output port and each copy
// drains independently.
func (p *Packet) Clone() *Packet {
	cp := *p
	cp.Dat = make([]byte, len(p.Dat), cap(p.Dat))
	copy(cp.Dat, p.Dat)
	return &cp
}

// NewPacket allocates a packet under reassembly: timestamp is the ingress
// cycle plus switching latency (§4.4 phase 1), sender is the ingress port.
// Dat is preallocated to hold MaxPacketFlits flits, sized in flitBytes-wide
// units, matching the original's fixed calloc of
// FLIT_SIZE_BYTES*(ETH_MAX_WORDS+ETH_EXTRA_FLITS).
func NewPacket(timestamp uint64, sender, flitBytes int) *Packet {
	return &Packet{
		Timestamp: timestamp,
		Sender:    sender,
		Dat:       make([]byte, 0, flitBytes*MaxPacketFlits),
	}
}

// AppendFlit appends one flit's worth of bytes to the packet and advances
// AmtWritten. It returns an error if doing so would exceed the packet's
// fixed capacity — on the real fabric this can only happen if the gateware
// sends a packet with no last flit ever set, a fatal programming error per
// spec §7, not a transient condition.
func (p *Packet) AppendFlit(flit []byte) error {
	if len(p.Dat)+len(flit) > cap(p.Dat) {
		return fmt.Errorf("baseport: packet from sender %d exceeds %d flits without a last bit; wire protocol violation", p.Sender, MaxPacketFlits)
	}
	p.Dat = append(p.Dat, flit...)
	p.AmtWritten++
	return nil
}
