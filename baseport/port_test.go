package baseport

import (
	"testing"

	"github.com/firesim/netswitch/bigtoken"
)

func newTestOutputPort(t *testing.T, throttled bool, numBigTokens int) *Port {
	t.Helper()
	p := NewPort(0, bigtoken.DefaultGeometry, throttled)
	buf := make([]byte, bigtoken.DefaultGeometry.WindowBytes(numBigTokens))
	w, err := bigtoken.NewWindow(bigtoken.DefaultGeometry, buf)
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}
	p.SetOutputBuf(w)
	return p
}

func onePacket(flits int) *Packet {
	pkt := NewPacket(0, 0, bigtoken.DefaultGeometry.FlitBytes)
	for i := 0; i < flits; i++ {
		flit := make([]byte, bigtoken.DefaultGeometry.FlitBytes)
		flit[0] = byte(i)
		_ = pkt.AppendFlit(flit)
	}
	return pkt
}

func TestWriteFlitsToOutputUnthrottledWritesEveryFlit(t *testing.T) {
	p := newTestOutputPort(t, false, 1) // 7 tokens
	p.OutputQueue.PushBack(onePacket(3))

	p.WriteFlitsToOutput(IterationParams{LinkLatency: 7, ThrottleNumer: 1, ThrottleDenom: 1})

	for i := 0; i < 3; i++ {
		if !p.CurrentOutputBuf.IsValidFlit(i) {
			t.Fatalf("flit %d should be valid", i)
		}
	}
	if !p.CurrentOutputBuf.IsLastFlit(2) {
		t.Fatalf("flit 2 should be last")
	}
	if p.OutputQueue.Len() != 0 {
		t.Fatalf("packet should have fully drained")
	}
}

// TestWriteFlitsToOutputThrottleLaw is spec scenario 5: with a 1/2 bandwidth
// throttle, at most ceil(N*1/2) flits are marked valid within an N-token
// window, because with a numerator of 1 every emitted flit costs two token
// slots.
func TestWriteFlitsToOutputThrottleLaw(t *testing.T) {
	geo := bigtoken.DefaultGeometry
	numBigTokens := 58 // 58*7 = 406 >= 400 tokens requested
	p := newTestOutputPort(t, true, numBigTokens)

	pkt := NewPacket(0, 0, geo.FlitBytes)
	for i := 0; i < 200; i++ {
		flit := make([]byte, geo.FlitBytes)
		_ = pkt.AppendFlit(flit)
	}
	p.OutputQueue.PushBack(pkt)

	p.WriteFlitsToOutput(IterationParams{LinkLatency: 400, ThrottleNumer: 1, ThrottleDenom: 2})

	valid := 0
	for tid := 0; tid < 400; tid++ {
		if p.CurrentOutputBuf.IsValidFlit(tid) {
			valid++
		}
	}
	if valid > 200 {
		t.Fatalf("throttle 1/2 over 400 tokens should emit at most 200 valid flits, got %d", valid)
	}
	if valid == 0 {
		t.Fatalf("expected some flits to be emitted")
	}
}

func TestWriteFlitsToOutputRespectsTimestampHorizon(t *testing.T) {
	p := newTestOutputPort(t, false, 1)
	pkt := onePacket(1)
	pkt.Timestamp = 100 // far beyond this window
	p.OutputQueue.PushBack(pkt)

	p.WriteFlitsToOutput(IterationParams{ThisIterCyclesStart: 0, LinkLatency: 7, ThrottleNumer: 1, ThrottleDenom: 1})

	if p.OutputQueue.Len() != 1 {
		t.Fatalf("packet outside the link-latency horizon must remain queued")
	}
	if p.CurrentOutputBuf.IsValidFlit(0) {
		t.Fatalf("nothing should have been written this window")
	}
}

func TestWriteFlitsToOutputMarksEmptyBufWhenNothingWritten(t *testing.T) {
	p := newTestOutputPort(t, false, 1)
	p.SetupSendBuf()

	p.WriteFlitsToOutput(IterationParams{LinkLatency: 7, ThrottleNumer: 1, ThrottleDenom: 1})

	if !p.CurrentOutputBuf.IsMarkedEmpty() {
		t.Fatalf("an output window with nothing written should read as marked empty")
	}
}

func TestReassembleInputLosslessAndOrdered(t *testing.T) {
	geo := bigtoken.DefaultGeometry
	buf := make([]byte, geo.WindowBytes(1))
	w, _ := bigtoken.NewWindow(geo, buf)

	payloads := [][]byte{
		{1, 1, 1, 1, 1, 1, 1, 1},
		{2, 2, 2, 2, 2, 2, 2, 2},
		{3, 3, 3, 3, 3, 3, 3, 3},
	}
	for i, pl := range payloads {
		w.WriteFlit(i, pl)
		w.WriteValidFlit(i)
		w.WriteLastFlit(i, i == len(payloads)-1)
	}

	p := NewPort(0, geo, false)
	p.SetInputBuf(w)

	if err := p.ReassembleInput(0, 10); err != nil {
		t.Fatalf("ReassembleInput: %v", err)
	}

	pkt := p.InputQueue.PopFront()
	if pkt == nil {
		t.Fatalf("expected a completed packet on the input queue")
	}
	if pkt.Timestamp != 10 {
		t.Fatalf("expected switch-latency-shifted timestamp 10, got %d", pkt.Timestamp)
	}
	if pkt.AmtWritten != 3 {
		t.Fatalf("expected 3 flits reassembled, got %d", pkt.AmtWritten)
	}
	for i, pl := range payloads {
		got := pkt.Dat[i*geo.FlitBytes : (i+1)*geo.FlitBytes]
		for j := range pl {
			if got[j] != pl[j] {
				t.Fatalf("flit %d byte %d mismatch: got %d want %d", i, j, got[j], pl[j])
			}
		}
	}
	if p.InputInProgress != nil {
		t.Fatalf("input_in_progress should be cleared once the last flit is seen")
	}
}
