/*
Package config implements a parser for l2tpd configuration represented
in the TOML format: https://github.com/toml-lang/toml.

Please refer to the TOML repos for an in-depth description of the syntax.

The top level of the file configures the daemon itself:

	# bind_ip is the local address the daemon binds its raw IP
	# socket to.  The peer addresses this IP in its SCCRQ.
	bind_ip = "10.251.134.1"

	# metrics_address, if set, enables the prometheus metrics
	# endpoint on the given address.
	metrics_address = "127.0.0.1:9091"

The [engine] table configures the protocol engine:

	[engine]

	# host_name is advertised to the peer in the SCCRP Host Name AVP.
	host_name = "BSC"

	# router_id is advertised in the SCCRP Router ID AVP.
	router_id = 9026

	# local_ip is the transport address advertised in the TCRQ.
	# Defaults to bind_ip.
	local_ip = "10.251.134.1"

	# sapis is the signaling SAPI list advertised in the TCRQ.
	sapis = [0, 10, 11, 12, 62]

	# tei_map is the TEI-to-subchannel map advertised in the ALTCRQ,
	# one [tei, subchannel] pair per entry.
	tei_map = [[0, 0], [62, 62]]

	# hello_timeout if set enables keep-alive (HELLO) messages.
	# A hello message is sent N milliseconds after the last control
	# message was sent or received.
	# By default no keep-alive messages are sent.
	hello_timeout = 7500 # milliseconds

	# retry_timeout if set tweaks the starting retry timeout for the
	# control message reliability algorithm, which uses an exponential
	# backoff when retrying messages.
	# By default a starting retry timeout of 1000ms is used.
	retry_timeout = 1000 # milliseconds

	# max_retries sets how many times a given control message may be
	# retried before the connection is considered dead.
	# The default is 3 retries.
	max_retries = 3

	# ack_delay sets how long received control messages may remain
	# unacknowledged while waiting for a piggyback opportunity.
	# The default is 100ms.
	ack_delay = 100 # milliseconds

Relay channels are called out using named TOML tables.  Each channel
carries one category of pseudowire traffic over a local unix socket:

	# This is a channel instance named "rsl_oml"
	[channel.rsl_oml]

	# socket_path is the unix datagram socket the channel relays
	# session payload over.
	socket_path = "/var/run/l2tpd/rsl_oml.sock"

	# remote_end_id matches the channel against the Remote End ID
	# the peer sends in its ICRQ.
	remote_end_id = [0x01]
*/
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/telsys/go-l2tpd/l2tpd"
)

// Config contains the daemon and protocol engine configuration.
type Config struct {
	// The entire tree as a map as parsed from the TOML representation.
	// Apps may access this tree to handle their own config tables.
	Map map[string]interface{}
	// BindIP is the local address for the raw IP socket.
	BindIP string
	// MetricsAddress, if non-empty, enables the metrics endpoint.
	MetricsAddress string
	// Engine is the protocol engine configuration.
	Engine l2tpd.Config
	// Channels are the relay channels defined in the configuration.
	Channels []NamedChannel
}

// NamedChannel contains the configuration of one relay channel.
type NamedChannel struct {
	// The channel's name as specified in the config file.
	Name string
	// SocketPath is the local unix datagram socket of the channel.
	SocketPath string
	// RemoteEndID matches sessions onto the channel.
	RemoteEndID []byte
}

// go-toml's ToMap function represents numbers as either uint64 or int64.
// So when we are converting numbers, we need to figure out which one it
// has picked and range check to ensure that the number from the config
// fits within the range of the destination type.
func toByte(v interface{}) (byte, error) {
	if b, ok := v.(int64); ok {
		if b < 0x0 || b > 0xff {
			return 0, fmt.Errorf("value %x out of range", b)
		}
		return byte(b), nil
	} else if b, ok := v.(uint64); ok {
		if b > 0xff {
			return 0, fmt.Errorf("value %x out of range", b)
		}
		return byte(b), nil
	}
	return 0, fmt.Errorf("unexpected %T value %v", v, v)
}

func toUint32(v interface{}) (uint32, error) {
	if b, ok := v.(int64); ok {
		if b < 0x0 || b > 0xffffffff {
			return 0, fmt.Errorf("value %x out of range", b)
		}
		return uint32(b), nil
	} else if b, ok := v.(uint64); ok {
		if b > 0xffffffff {
			return 0, fmt.Errorf("value %x out of range", b)
		}
		return uint32(b), nil
	}
	return 0, fmt.Errorf("unexpected %T value %v", v, v)
}

func toString(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("supplied value could not be parsed as a string")
}

func toDurationMs(v interface{}) (time.Duration, error) {
	u, err := toUint32(v)
	return time.Duration(u) * time.Millisecond, err
}

func toInt(v interface{}) (int, error) {
	u, err := toUint32(v)
	return int(u), err
}

func toBytes(v interface{}) ([]byte, error) {
	out := []byte{}

	// First ensure that the supplied value is actually an array
	numbers, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array value")
	}

	// TOML arrays can be mixed type, so we have to check on a value-by-value
	// basis that the value in the array can be represented as a byte.
	for _, number := range numbers {
		b, err := toByte(number)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func toIP(v interface{}) (net.IP, error) {
	s, err := toString(v)
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP address '%v'", s)
	}
	return ip, nil
}

func toTeiMap(v interface{}) ([]l2tpd.TEIMapping, error) {
	var out []l2tpd.TEIMapping

	entries, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array value")
	}
	for _, entry := range entries {
		pair, err := toBytes(entry)
		if err != nil {
			return nil, err
		}
		if len(pair) != 2 {
			return nil, fmt.Errorf("expected [tei, subchannel] pair, got %v values", len(pair))
		}
		out = append(out, l2tpd.TEIMapping{TEI: pair[0], Subchannel: pair[1]})
	}
	return out, nil
}

func (cfg *Config) loadEngine(emap map[string]interface{}) error {
	for k, v := range emap {
		var err error
		switch k {
		case "host_name":
			cfg.Engine.HostName, err = toString(v)
		case "router_id":
			cfg.Engine.RouterID, err = toUint32(v)
		case "local_ip":
			cfg.Engine.LocalIP, err = toIP(v)
		case "sapis":
			cfg.Engine.SAPIs, err = toBytes(v)
		case "tei_map":
			cfg.Engine.TEIMap, err = toTeiMap(v)
		case "hello_timeout":
			cfg.Engine.HelloTimeout, err = toDurationMs(v)
		case "retry_timeout":
			cfg.Engine.RetryTimeout, err = toDurationMs(v)
		case "max_retries":
			cfg.Engine.MaxRetries, err = toInt(v)
		case "ack_delay":
			cfg.Engine.AckDelay, err = toDurationMs(v)
		default:
			return fmt.Errorf("unrecognised parameter '%v'", k)
		}
		if err != nil {
			return fmt.Errorf("failed to process %v: %v", k, err)
		}
	}
	return nil
}

func newChannelConfig(name string, cmap map[string]interface{}) (*NamedChannel, error) {
	nc := &NamedChannel{Name: name}
	for k, v := range cmap {
		var err error
		switch k {
		case "socket_path":
			nc.SocketPath, err = toString(v)
		case "remote_end_id":
			nc.RemoteEndID, err = toBytes(v)
		default:
			return nil, fmt.Errorf("unrecognised parameter '%v'", k)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to process %v: %v", k, err)
		}
	}
	if nc.SocketPath == "" {
		return nil, fmt.Errorf("no socket_path specified")
	}
	return nc, nil
}

func (cfg *Config) loadChannels(v interface{}) error {
	channels, ok := v.(map[string]interface{})
	if !ok {
		return fmt.Errorf("channel instances must be named, e.g. '[channel.mychannel]'")
	}
	for name, got := range channels {
		cmap, ok := got.(map[string]interface{})
		if !ok {
			return fmt.Errorf("channel instances must be named, e.g. '[channel.mychannel]'")
		}
		ccfg, err := newChannelConfig(name, cmap)
		if err != nil {
			return fmt.Errorf("channel %v: %v", name, err)
		}
		cfg.Channels = append(cfg.Channels, *ccfg)
	}
	return nil
}

func (cfg *Config) load() error {
	for k, v := range cfg.Map {
		var err error
		switch k {
		case "bind_ip":
			cfg.BindIP, err = toString(v)
		case "metrics_address":
			cfg.MetricsAddress, err = toString(v)
		case "engine":
			emap, ok := v.(map[string]interface{})
			if !ok {
				return fmt.Errorf("engine configuration must be a table")
			}
			err = cfg.loadEngine(emap)
		case "channel":
			err = cfg.loadChannels(v)
		default:
			return fmt.Errorf("unrecognised parameter '%v'", k)
		}
		if err != nil {
			return err
		}
	}
	if cfg.BindIP == "" {
		return fmt.Errorf("no bind_ip specified")
	}
	if cfg.Engine.LocalIP == nil {
		cfg.Engine.LocalIP = net.ParseIP(cfg.BindIP)
	}
	return nil
}

func newConfig(tree *toml.Tree) (*Config, error) {
	cfg := &Config{
		Map:    tree.ToMap(),
		Engine: l2tpd.DefaultConfig(),
	}
	if err := cfg.load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads configuration from the specified file.
func LoadFile(path string) (*Config, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %v", err)
	}
	return newConfig(tree)
}

// LoadString loads configuration from the specified string.
func LoadString(content string) (*Config, error) {
	tree, err := toml.Load(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load config string: %v", err)
	}
	return newConfig(tree)
}
