package switchcore

import "github.com/firesim/netswitch/baseport"

// tsPacket pairs a reassembled packet with the insertion sequence it was
// pulled off a port's input queue in, so that packets with equal
// timestamps still sort deterministically (the original's
// std::priority_queue<tspacket> breaks ties however its heap happens to,
// which this rewrite makes explicit rather than inheriting).
type tsPacket struct {
	timestamp uint64
	seq       uint64
	pkt       *baseport.Packet
}

// tsPacketHeap is a min-heap over tsPacket by (timestamp, seq), giving the
// global cross-port packet order the routing phase needs.
type tsPacketHeap []tsPacket

func (h tsPacketHeap) Len() int { return len(h) }

func (h tsPacketHeap) Less(i, j int) bool {
	if h[i].timestamp != h[j].timestamp {
		return h[i].timestamp < h[j].timestamp
	}
	return h[i].seq < h[j].seq
}

func (h tsPacketHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *tsPacketHeap) Push(x any) {
	*h = append(*h, x.(tsPacket))
}

func (h *tsPacketHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
