package topology

import "testing"

const validYAML = `
numdownlinks: 4
numuplinks: 1
mac2port:
  "0201": 2
  "0301": 4
ports:
  - type: shmem
    name: sw0port0
  - type: shmem
    name: sw0port1
  - type: socket
    listen: "0.0.0.0:9000"
  - type: socket
    dial: "10.0.0.5:9000"
  - type: ssh
    host: "uplink.example.com:22"
    user: sim
    known_hosts: /home/sim/.ssh/known_hosts
    key: /home/sim/.ssh/id_ed25519
    remote_addr: "127.0.0.1:9001"
`

func TestReadConfigBytesDecodesPortsAndMacTable(t *testing.T) {
	topo, err := ReadConfigBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("ReadConfigBytes: %v", err)
	}
	if topo.NumDownlinks != 4 || topo.NumUplinks != 1 {
		t.Fatalf("got downlinks=%d uplinks=%d, want 4/1", topo.NumDownlinks, topo.NumUplinks)
	}
	if len(topo.Ports) != 5 {
		t.Fatalf("got %d port entries, want 5", len(topo.Ports))
	}
	if topo.Mac2Port[0x0201] != 2 {
		t.Fatalf("mac2port[0x0201] = %d, want 2", topo.Mac2Port[0x0201])
	}
	if topo.Mac2Port[0x0301] != 4 {
		t.Fatalf("mac2port[0x0301] = %d, want 4 (the any-uplink sentinel == numdownlinks)", topo.Mac2Port[0x0301])
	}
	if topo.Ports[2].Listen != "0.0.0.0:9000" {
		t.Fatalf("socket port 2 listen = %q", topo.Ports[2].Listen)
	}
	if topo.Ports[4].Type != "ssh" || topo.Ports[4].RemoteAddr != "127.0.0.1:9001" {
		t.Fatalf("ssh port 4 decoded wrong: %+v", topo.Ports[4])
	}
}

// TestReadConfigBytesRejectsMalformedMacKey is spec scenario 7.
func TestReadConfigBytesRejectsMalformedMacKey(t *testing.T) {
	bad := `
numdownlinks: 4
numuplinks: 0
mac2port:
  "not-hex": 1
ports:
  - {type: shmem, name: a}
  - {type: shmem, name: b}
  - {type: shmem, name: c}
  - {type: shmem, name: d}
`
	_, err := ReadConfigBytes([]byte(bad))
	if err == nil {
		t.Fatalf("expected an error for a malformed mac2port hex key, got nil")
	}
}

func TestReadConfigBytesRejectsPortCountMismatch(t *testing.T) {
	bad := `
numdownlinks: 4
numuplinks: 0
mac2port: {}
ports:
  - {type: shmem, name: a}
`
	_, err := ReadConfigBytes([]byte(bad))
	if err == nil {
		t.Fatalf("expected an error when len(ports) != numdownlinks+numuplinks")
	}
}

func TestReadConfigBytesRejectsZeroDownlinks(t *testing.T) {
	bad := `
numdownlinks: 0
numuplinks: 0
mac2port: {}
ports: []
`
	_, err := ReadConfigBytes([]byte(bad))
	if err == nil {
		t.Fatalf("expected an error for numdownlinks=0")
	}
}
