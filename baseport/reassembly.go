package baseport

import "github.com/firesim/netswitch/bigtoken"

// ReassembleInput scans CurrentInputBuf for valid flits and feeds them into
// InputInProgress, pushing completed packets (last flit seen) onto
// InputQueue. switchLatency is added to the packet's timestamp at creation
// time — this is the fabric's minimum port-to-port latency, injected the
// moment a packet is first observed rather than when it's later routed.
//
// This is phase 1 of switchcore.Context.Switch (§4.4), factored out here
// because it only touches a single port's state and so belongs next to the
// rest of the per-port algorithms, not in the cross-port switching core.
func (p *Port) ReassembleInput(iterCyclesStart uint64, switchLatency int) error {
	buf := p.CurrentInputBuf
	for tokenid := 0; tokenid < buf.NumTokens(); tokenid++ {
		if !buf.IsValidFlit(tokenid) {
			continue
		}
		flit := buf.GetFlit(tokenid)

		if p.InputInProgress == nil {
			pkt := NewPacket(iterCyclesStart+uint64(tokenid)+uint64(switchLatency), p.ID, p.Geo.FlitBytes)
			p.InputInProgress = pkt
		}
		pkt := p.InputInProgress
		if err := pkt.AppendFlit(flit); err != nil {
			return err
		}
		if buf.IsLastFlit(tokenid) {
			p.InputQueue.PushBack(pkt)
			p.InputInProgress = nil
		}
	}
	return nil
}

// SetInputBuf assigns the window a transport should reassemble from for
// this iteration. Most transports reassign this once per recv(); shmem in
// particular flips between two halves of a double buffer.
func (p *Port) SetInputBuf(w bigtoken.Window) { p.CurrentInputBuf = w }

// SetOutputBuf assigns the window write_flits_to_output will drain into.
func (p *Port) SetOutputBuf(w bigtoken.Window) { p.CurrentOutputBuf = w }
