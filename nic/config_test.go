package nic

import "testing"

// TestParseArgsDemultiplexesByIndex is spec scenario 9.
func TestParseArgsDemultiplexesByIndex(t *testing.T) {
	args := []string{
		"+macaddr0=00:11:22:33:44:55",
		"+macaddr1=aa:bb:cc:dd:ee:ff",
		"+linklatency0=700",
		"+linklatency1=700",
		"+nic-loopback0",
		"+nic-loopback1",
	}

	cfg0, err := ParseArgs(args, 0)
	if err != nil {
		t.Fatalf("ParseArgs(0): %v", err)
	}
	want0, _ := parseMAC("00:11:22:33:44:55")
	if cfg0.MacAddr != want0 {
		t.Fatalf("endpoint 0 got mac %x, want %x", cfg0.MacAddr, want0)
	}

	cfg1, err := ParseArgs(args, 1)
	if err != nil {
		t.Fatalf("ParseArgs(1): %v", err)
	}
	want1, _ := parseMAC("aa:bb:cc:dd:ee:ff")
	if cfg1.MacAddr != want1 {
		t.Fatalf("endpoint 1 got mac %x, want %x", cfg1.MacAddr, want1)
	}
}

func TestParseArgsRejectsNetBurstTooLarge(t *testing.T) {
	args := []string{"+linklatency0=700", "+nic-loopback0", "+netburst0=256"}
	if _, err := ParseArgs(args, 0); err == nil {
		t.Fatalf("expected an error for netburst0=256 (must be < 256)")
	}
}

func TestParseArgsRejectsBandwidthAboveMax(t *testing.T) {
	args := []string{"+linklatency0=700", "+nic-loopback0", "+netbw0=900"}
	if _, err := ParseArgs(args, 0); err == nil {
		t.Fatalf("expected an error for netbw0=900 (> MaxBandwidth)")
	}
}

func TestParseArgsRequiresShmemNameUnlessLoopback(t *testing.T) {
	args := []string{"+linklatency0=700"}
	if _, err := ParseArgs(args, 0); err == nil {
		t.Fatalf("expected an error when neither loopback nor a shmem port name is given")
	}
}
