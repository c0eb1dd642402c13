package transport

import (
	"testing"
	"time"

	"github.com/firesim/netswitch/bigtoken"
)

// TestSocketPortRoundTrip is spec scenario 8: a listener/dialer pair over
// loopback TCP round-trips one window, including an empty-buffer window
// carrying bigtoken.EmptyMarker rather than any valid flits.
func TestSocketPortRoundTrip(t *testing.T) {
	geo := bigtoken.DefaultGeometry
	const windowBigTokens = 1
	addr := "127.0.0.1:18475"

	type result struct {
		port *SocketPort
		err  error
	}
	serverCh := make(chan result, 1)
	go func() {
		p, err := NewSocketPort(0, geo, "", addr, false, windowBigTokens)
		serverCh <- result{p, err}
	}()

	time.Sleep(50 * time.Millisecond)

	client, err := NewSocketPort(1, geo, addr, "", false, windowBigTokens)
	if err != nil {
		t.Fatalf("client NewSocketPort: %v", err)
	}
	defer client.Close()

	srv := <-serverCh
	if srv.err != nil {
		t.Fatalf("server NewSocketPort: %v", srv.err)
	}
	defer srv.port.Close()

	// Non-empty window: client sends one valid+last flit, server receives it.
	client.CurrentOutputBuf.WriteFlit(0, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	client.CurrentOutputBuf.WriteValidFlit(0)
	client.CurrentOutputBuf.WriteLastFlit(0, true)

	if err := client.Send(); err != nil {
		t.Fatalf("client.Send: %v", err)
	}
	if err := srv.port.Recv(); err != nil {
		t.Fatalf("server.Recv: %v", err)
	}
	if !srv.port.CurrentInputBuf.IsValidFlit(0) || !srv.port.CurrentInputBuf.IsLastFlit(0) {
		t.Fatalf("server did not receive the valid/last flit")
	}
	if got := srv.port.CurrentInputBuf.GetFlit(0); got[0] != 1 {
		t.Fatalf("unexpected flit payload: %v", got)
	}

	// Empty window: server sends a buffer marked empty, client observes the
	// marker on the wire (Send does not clear it for this transport — only
	// ShmemPort needs to, since it shares memory with the next round).
	srv.port.CurrentOutputBuf.Zero()
	srv.port.CurrentOutputBuf.MarkEmpty()
	if err := srv.port.Send(); err != nil {
		t.Fatalf("server.Send: %v", err)
	}
	if err := client.Recv(); err != nil {
		t.Fatalf("client.Recv: %v", err)
	}
	if !client.CurrentInputBuf.IsMarkedEmpty() {
		t.Fatalf("client should observe the empty-buffer marker")
	}
}
