// Package topology loads the static, process-lifetime switch configuration:
// the downlink/uplink port counts, the MAC→port table, and each port's
// transport descriptor. It is the Go-native stand-in for the original's
// compile-time-generated switchconfig.h.
package topology

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// PortTransport names one port's wire-level transport and its
// transport-specific settings. Exactly one of the Shmem/Socket/SSH-shaped
// field groups is meaningful, selected by Type.
type PortTransport struct {
	Type string `mapstructure:"type"` // "shmem", "socket", or "ssh"

	// shmem
	Name string `mapstructure:"name"`

	// socket
	Listen string `mapstructure:"listen"`
	Dial   string `mapstructure:"dial"`

	// ssh
	Host       string `mapstructure:"host"`
	User       string `mapstructure:"user"`
	KnownHosts string `mapstructure:"known_hosts"`
	Key        string `mapstructure:"key"`
	RemoteAddr string `mapstructure:"remote_addr"`
}

// SwitchTopology is the decoded configuration for one switch process.
type SwitchTopology struct {
	NumDownlinks int
	NumUplinks   int
	Mac2Port     map[uint16]int
	Ports        []PortTransport
}

// ReadConfigFile locates and decodes the topology file, following the same
// search-path convention as the original control plane's ReadConfigFile:
// current directory, ./conf, $HOME/.horus, /etc/netswitch/.
func ReadConfigFile(configName string, configPaths ...string) (*SwitchTopology, error) {
	v := viper.New()
	cfgName := "switchtopology"
	if configName != "" {
		cfgName = configName
	}
	v.SetConfigName(cfgName)
	v.AddConfigPath("/etc/netswitch/")
	v.AddConfigPath("$HOME/.horus")
	v.AddConfigPath(".")
	v.AddConfigPath("./conf")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("topology: reading config %q: %w", cfgName, err)
	}
	return decode(v)
}

// ReadConfigPath decodes the topology file at an explicit path, for the
// `-topo <file>` CLI contract where the operator names the file directly
// rather than relying on the search-path convention.
func ReadConfigPath(path string) (*SwitchTopology, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("topology: reading config %q: %w", path, err)
	}
	return decode(v)
}

// ReadConfigBytes decodes a YAML document directly, bypassing the search
// path — used by tests and by callers that already hold the file contents.
func ReadConfigBytes(yamlDoc []byte) (*SwitchTopology, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(yamlDoc)); err != nil {
		return nil, fmt.Errorf("topology: parsing yaml: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*SwitchTopology, error) {
	t := &SwitchTopology{
		NumDownlinks: v.GetInt("numdownlinks"),
		NumUplinks:   v.GetInt("numuplinks"),
	}
	if t.NumDownlinks <= 0 {
		return nil, fmt.Errorf("topology: numdownlinks must be positive, got %d", t.NumDownlinks)
	}
	if t.NumUplinks < 0 {
		return nil, fmt.Errorf("topology: numuplinks must not be negative, got %d", t.NumUplinks)
	}

	if err := v.UnmarshalKey("ports", &t.Ports); err != nil {
		return nil, fmt.Errorf("topology: decoding ports: %w", err)
	}
	if len(t.Ports) != t.NumDownlinks+t.NumUplinks {
		return nil, fmt.Errorf("topology: %d port entries but numdownlinks+numuplinks=%d",
			len(t.Ports), t.NumDownlinks+t.NumUplinks)
	}

	raw := v.GetStringMap("mac2port")
	t.Mac2Port = make(map[uint16]int, len(raw))
	for key, val := range raw {
		mac, err := strconv.ParseUint(key, 16, 16)
		if err != nil {
			return nil, fmt.Errorf("topology: mac2port key %q is not a 16-bit hex MAC-low value: %w", key, err)
		}
		port, err := cast.ToIntE(val)
		if err != nil {
			return nil, fmt.Errorf("topology: mac2port[%q] value %v is not an integer port id: %w", key, val, err)
		}
		if port < 0 || port > t.NumDownlinks+t.NumUplinks {
			return nil, fmt.Errorf("topology: mac2port[%q]=%d out of range [0, %d]", key, port, t.NumDownlinks+t.NumUplinks)
		}
		t.Mac2Port[uint16(mac)] = port
	}

	return t, nil
}
