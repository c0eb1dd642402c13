package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/firesim/netswitch/bigtoken"
	"github.com/firesim/netswitch/switchcore"
	"github.com/firesim/netswitch/topology"
	"github.com/firesim/netswitch/transport"
)

func main() {
	var topoFp string
	var loglevel string

	flag.StringVar(&topoFp, "topo", "", "Topology file path")
	flag.StringVar(&loglevel, "loglevel", "info", "logrus level (trace, debug, info, warn, error)")
	flag.Parse()

	if topoFp == "" {
		logrus.Fatal("Topology file path is required")
	}
	level, err := logrus.ParseLevel(loglevel)
	if err != nil {
		logrus.Fatalf("invalid -loglevel %q: %v", loglevel, err)
	}
	logrus.SetLevel(level)

	args := flag.Args()
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: switch -topo <topology.yaml> LINKLATENCY SWITCHLATENCY BANDWIDTH_GBPS")
		fmt.Fprintln(os.Stderr, "insufficient args provided.")
		fmt.Fprintln(os.Stderr, "LINKLATENCY and SWITCHLATENCY should be provided in cycles.")
		fmt.Fprintln(os.Stderr, "BANDWIDTH_GBPS should be provided in Gbps")
		os.Exit(1)
	}

	linkLatency, err := strconv.Atoi(args[0])
	if err != nil {
		logrus.Fatalf("LINKLATENCY %q is not an integer", args[0])
	}
	switchLatency, err := strconv.Atoi(args[1])
	if err != nil {
		logrus.Fatalf("SWITCHLATENCY %q is not an integer", args[1])
	}
	bandwidth, err := strconv.Atoi(args[2])
	if err != nil {
		logrus.Fatalf("BANDWIDTH_GBPS %q is not an integer", args[2])
	}

	geo := bigtoken.DefaultGeometry
	if linkLatency%geo.TokensPerBig != 0 {
		logrus.Fatalf("INVALID LINKLATENCY. Currently must be a multiple of %d cycles.", geo.TokensPerBig)
	}

	topo, err := topology.ReadConfigPath(topoFp)
	if err != nil {
		logrus.Fatalf("loading topology: %v", err)
	}

	windowBigTokens := linkLatency / geo.TokensPerBig
	ports, err := buildPorts(topo, geo, windowBigTokens)
	if err != nil {
		logrus.Fatalf("constructing ports: %v", err)
	}

	mt := switchcore.NewMacTable(topo.Mac2Port, topo.NumDownlinks, topo.NumUplinks)

	throttleNumer, throttleDenom := switchcore.SimplifyFrac(bandwidth, switchcore.MaxBandwidth)
	logrus.Infof("Using link latency: %d", linkLatency)
	logrus.Infof("Using switching latency: %d", switchLatency)
	logrus.Infof("BW throttle set to %d/%d", throttleNumer, throttleDenom)

	ctx, err := switchcore.NewContext(ports, mt, linkLatency, switchLatency, throttleNumer, throttleDenom, topo.NumDownlinks, geo.TokensPerBig)
	if err != nil {
		logrus.Fatalf("constructing switch context: %v", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logrus.Infof("received %s, closing ports", sig)
		closePorts(ports)
		os.Exit(0)
	}()

	runLoop(ctx, ports)
}

// closer is satisfied by the shmem/socket/ssh transports' Close method;
// not every Port implementation needs one (a future in-process transport
// might not), so it's checked with a type assertion rather than added to
// switchcore.Port.
type closer interface {
	Close() error
}

func closePorts(ports []switchcore.Port) {
	for _, p := range ports {
		if c, ok := p.(closer); ok {
			if err := c.Close(); err != nil {
				logrus.Warnf("port %d: close: %v", p.Base().ID, err)
			}
		}
	}
}

// runLoop is the Go translation of switch.cc's main() while(true) loop:
// send, recv (blocking per port), tick_pre, do_fast_switching, tick. Send
// and recv fan out with one goroutine per port in the original; here
// they're driven sequentially since most of the cost is in Recv's blocking
// wait, which each transport already implements without holding up the
// others (shmem busy-polls, socket/ssh block on a channel fed by their own
// reader goroutine).
func runLoop(ctx *switchcore.Context, ports []switchcore.Port) {
	for {
		for _, p := range ports {
			if err := p.Send(); err != nil {
				logrus.Fatalf("port %d: send: %v", p.Base().ID, err)
			}
		}
		for _, p := range ports {
			if err := p.Recv(); err != nil {
				logrus.Fatalf("port %d: recv: %v", p.Base().ID, err)
			}
		}
		for _, p := range ports {
			if err := p.TickPre(); err != nil {
				logrus.Fatalf("port %d: tick_pre: %v", p.Base().ID, err)
			}
		}

		if err := ctx.Switch(); err != nil {
			logrus.Fatalf("switching: %v", err)
		}

		for _, p := range ports {
			if err := p.Tick(); err != nil {
				logrus.Fatalf("port %d: tick: %v", p.Base().ID, err)
			}
		}
	}
}

// buildPorts constructs one transport per topology.PortTransport entry,
// in port-index order; ports [0, NumDownlinks) are downlinks, the rest are
// uplinks, matching switchconfig.h's PORTSETUPCONFIG section.
func buildPorts(topo *topology.SwitchTopology, geo bigtoken.Geometry, windowBigTokens int) ([]switchcore.Port, error) {
	ports := make([]switchcore.Port, len(topo.Ports))
	for i, pt := range topo.Ports {
		uplink := i >= topo.NumDownlinks
		throttled := !uplink

		switch pt.Type {
		case "shmem":
			p, err := transport.NewShmemPort(i, geo, pt.Name, uplink, windowBigTokens)
			if err != nil {
				return nil, fmt.Errorf("port %d (shmem %s): %w", i, pt.Name, err)
			}
			ports[i] = p

		case "socket":
			p, err := transport.NewSocketPort(i, geo, pt.Dial, pt.Listen, throttled, windowBigTokens)
			if err != nil {
				return nil, fmt.Errorf("port %d (socket): %w", i, err)
			}
			ports[i] = p

		case "ssh":
			cfg, err := sshConfigFromTopology(pt)
			if err != nil {
				return nil, fmt.Errorf("port %d (ssh): %w", i, err)
			}
			p, err := transport.NewSSHPort(i, geo, cfg, throttled, windowBigTokens)
			if err != nil {
				return nil, fmt.Errorf("port %d (ssh): %w", i, err)
			}
			ports[i] = p

		default:
			return nil, fmt.Errorf("port %d: unknown transport type %q", i, pt.Type)
		}
	}
	return ports, nil
}

// sshConfigFromTopology turns the YAML-friendly path/string fields of a
// topology.PortTransport into the ssh.AuthMethod/HostKeyCallback pair
// transport.NewSSHPort needs.
func sshConfigFromTopology(pt topology.PortTransport) (transport.SSHConfig, error) {
	keyBytes, err := os.ReadFile(pt.Key)
	if err != nil {
		return transport.SSHConfig{}, fmt.Errorf("reading private key %s: %w", pt.Key, err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return transport.SSHConfig{}, fmt.Errorf("parsing private key %s: %w", pt.Key, err)
	}
	hostKeyCB, err := knownhosts.New(pt.KnownHosts)
	if err != nil {
		return transport.SSHConfig{}, fmt.Errorf("loading known_hosts %s: %w", pt.KnownHosts, err)
	}
	return transport.SSHConfig{
		Host:       pt.Host,
		User:       pt.User,
		HostKeyCB:  hostKeyCB,
		AuthMethod: ssh.PublicKeys(signer),
		RemoteAddr: pt.RemoteAddr,
	}, nil
}
