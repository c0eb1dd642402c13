package nic

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Config holds one NIC endpoint's command-line-derived configuration. The
// wire format is FireSim's `+key{N}=value` CLI convention (spec §4.3):
// none of flag/pflag/viper model a per-instance-indexed, `+`-prefixed
// argument shape, so ParseArgs is a small hand-rolled scanner over the raw
// argument slice rather than built on one of those libraries.
type Config struct {
	Index         int
	MacAddr       uint64 // 48 bits, packed little-endian octet order like the original's mac_lendian
	Loopback      bool
	NetBW         int
	NetBurst      int
	LinkLatency   int
	ShmemPortName string
	NicLogPath    string
}

// ParseArgs scans an os.Args-shaped slice for the `+key{n}=value` (or bare
// `+nic-loopback{n}`) arguments belonging to endpoint index n, ignoring
// every other index's keys in the same slice — mirroring simplenic_t's
// constructor, which is handed the full simulator argv and picks out only
// its own `simplenicno`-suffixed entries.
func ParseArgs(args []string, n int) (*Config, error) {
	cfg := &Config{Index: n, NetBW: MaxBandwidth, NetBurst: 8}
	suffix := strconv.Itoa(n)

	reNicLog := regexp.MustCompile(`^\+niclog` + suffix + `=(.*)$`)
	reLoopback := regexp.MustCompile(`^\+nic-loopback` + suffix + `$`)
	reMacAddr := regexp.MustCompile(`^\+macaddr` + suffix + `=(.*)$`)
	reNetBW := regexp.MustCompile(`^\+netbw` + suffix + `=(.*)$`)
	reNetBurst := regexp.MustCompile(`^\+netburst` + suffix + `=(.*)$`)
	reLinkLatency := regexp.MustCompile(`^\+linklatency` + suffix + `=(.*)$`)
	reShmemName := regexp.MustCompile(`^\+shmemportname` + suffix + `=(.*)$`)

	for _, arg := range args {
		switch {
		case reNicLog.MatchString(arg):
			cfg.NicLogPath = reNicLog.FindStringSubmatch(arg)[1]

		case reLoopback.MatchString(arg):
			cfg.Loopback = true

		case reMacAddr.MatchString(arg):
			mac, err := parseMAC(reMacAddr.FindStringSubmatch(arg)[1])
			if err != nil {
				return nil, fmt.Errorf("nic: %s: %w", arg, err)
			}
			cfg.MacAddr = mac

		case reNetBW.MatchString(arg):
			v, err := strconv.Atoi(reNetBW.FindStringSubmatch(arg)[1])
			if err != nil {
				return nil, fmt.Errorf("nic: %s: invalid integer", arg)
			}
			cfg.NetBW = v

		case reNetBurst.MatchString(arg):
			v, err := strconv.Atoi(reNetBurst.FindStringSubmatch(arg)[1])
			if err != nil {
				return nil, fmt.Errorf("nic: %s: invalid integer", arg)
			}
			cfg.NetBurst = v

		case reLinkLatency.MatchString(arg):
			v, err := strconv.Atoi(reLinkLatency.FindStringSubmatch(arg)[1])
			if err != nil {
				return nil, fmt.Errorf("nic: %s: invalid integer", arg)
			}
			cfg.LinkLatency = v

		case reShmemName.MatchString(arg):
			cfg.ShmemPortName = reShmemName.FindStringSubmatch(arg)[1]
		}
	}

	if cfg.LinkLatency <= 0 {
		return nil, fmt.Errorf("nic: endpoint %d: +linklatency%d= must be positive", n, n)
	}
	if cfg.NetBurst >= 256 {
		return nil, fmt.Errorf("nic: endpoint %d: +netburst%d=%d must be < 256", n, n, cfg.NetBurst)
	}
	if cfg.NetBW > MaxBandwidth {
		return nil, fmt.Errorf("nic: endpoint %d: +netbw%d=%d must be <= %d", n, n, cfg.NetBW, MaxBandwidth)
	}
	if !cfg.Loopback && cfg.ShmemPortName == "" {
		return nil, fmt.Errorf("nic: endpoint %d: +shmemportname%d= is required unless +nic-loopback%d is set", n, n, n)
	}

	return cfg, nil
}

// parseMAC parses "aa:bb:cc:dd:ee:ff" into the original's little-endian
// packed form: octet i occupies bits [8i, 8i+8).
func parseMAC(s string) (uint64, error) {
	octets := strings.Split(s, ":")
	if len(octets) != 6 {
		return 0, fmt.Errorf("invalid MAC address %q", s)
	}
	var mac uint64
	for i, o := range octets {
		v, err := strconv.ParseUint(o, 16, 8)
		if err != nil {
			return 0, fmt.Errorf("invalid MAC address %q", s)
		}
		mac |= v << (8 * uint(i))
	}
	return mac, nil
}
