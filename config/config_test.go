package config

import (
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/telsys/go-l2tpd/l2tpd"
)

func TestGetConfig(t *testing.T) {
	cfg, err := LoadString(`
		bind_ip = "10.251.134.1"
		metrics_address = "127.0.0.1:9091"

		[engine]
		host_name = "BSC"
		router_id = 9026
		local_ip = "10.251.134.1"
		sapis = [0, 10, 11, 12, 62]
		tei_map = [[0, 0], [62, 62]]
		hello_timeout = 7500
		retry_timeout = 1500
		max_retries = 5
		ack_delay = 250

		[channel.rsl_oml]
		socket_path = "/tmp/rsl_oml.sock"
		remote_end_id = [0x01]

		[channel.trau]
		socket_path = "/tmp/trau.sock"
		remote_end_id = [0x02]
	`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}

	if cfg.BindIP != "10.251.134.1" {
		t.Errorf("BindIP = %q", cfg.BindIP)
	}
	if cfg.MetricsAddress != "127.0.0.1:9091" {
		t.Errorf("MetricsAddress = %q", cfg.MetricsAddress)
	}

	e := cfg.Engine
	if e.HostName != "BSC" {
		t.Errorf("HostName = %q", e.HostName)
	}
	if e.RouterID != 9026 {
		t.Errorf("RouterID = %d", e.RouterID)
	}
	if !e.LocalIP.Equal(net.ParseIP("10.251.134.1")) {
		t.Errorf("LocalIP = %v", e.LocalIP)
	}
	if !reflect.DeepEqual(e.SAPIs, []byte{0, 10, 11, 12, 62}) {
		t.Errorf("SAPIs = %v", e.SAPIs)
	}
	wantMap := []l2tpd.TEIMapping{{TEI: 0, Subchannel: 0}, {TEI: 62, Subchannel: 62}}
	if !reflect.DeepEqual(e.TEIMap, wantMap) {
		t.Errorf("TEIMap = %v", e.TEIMap)
	}
	if e.HelloTimeout != 7500*time.Millisecond {
		t.Errorf("HelloTimeout = %v", e.HelloTimeout)
	}
	if e.RetryTimeout != 1500*time.Millisecond {
		t.Errorf("RetryTimeout = %v", e.RetryTimeout)
	}
	if e.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d", e.MaxRetries)
	}
	if e.AckDelay != 250*time.Millisecond {
		t.Errorf("AckDelay = %v", e.AckDelay)
	}

	if len(cfg.Channels) != 2 {
		t.Fatalf("%d channels, want 2", len(cfg.Channels))
	}
	byName := make(map[string]NamedChannel)
	for _, ch := range cfg.Channels {
		byName[ch.Name] = ch
	}
	rsl, ok := byName["rsl_oml"]
	if !ok {
		t.Fatalf("no rsl_oml channel")
	}
	if rsl.SocketPath != "/tmp/rsl_oml.sock" {
		t.Errorf("rsl_oml socket path = %q", rsl.SocketPath)
	}
	if !reflect.DeepEqual(rsl.RemoteEndID, []byte{0x01}) {
		t.Errorf("rsl_oml remote end ID = %v", rsl.RemoteEndID)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := LoadString(`bind_ip = "192.0.2.1"`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	want := l2tpd.DefaultConfig()
	if cfg.Engine.HostName != want.HostName {
		t.Errorf("HostName = %q, want %q", cfg.Engine.HostName, want.HostName)
	}
	if cfg.Engine.RouterID != want.RouterID {
		t.Errorf("RouterID = %d, want %d", cfg.Engine.RouterID, want.RouterID)
	}
	if !reflect.DeepEqual(cfg.Engine.SAPIs, want.SAPIs) {
		t.Errorf("SAPIs = %v, want %v", cfg.Engine.SAPIs, want.SAPIs)
	}
	if !reflect.DeepEqual(cfg.Engine.TEIMap, want.TEIMap) {
		t.Errorf("TEIMap = %v, want %v", cfg.Engine.TEIMap, want.TEIMap)
	}
	// local_ip falls back to bind_ip
	if !cfg.Engine.LocalIP.Equal(net.ParseIP("192.0.2.1")) {
		t.Errorf("LocalIP = %v, want bind_ip", cfg.Engine.LocalIP)
	}
}

func TestConfigBad(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{
			name: "missing bind_ip",
			in:   `metrics_address = "127.0.0.1:9091"`,
		},
		{
			name: "unknown top level key",
			in: `bind_ip = "192.0.2.1"
			wibble = 42`,
		},
		{
			name: "unknown engine key",
			in: `bind_ip = "192.0.2.1"
			[engine]
			frobnicate = true`,
		},
		{
			name: "bad router_id type",
			in: `bind_ip = "192.0.2.1"
			[engine]
			router_id = "lots"`,
		},
		{
			name: "bad local_ip",
			in: `bind_ip = "192.0.2.1"
			[engine]
			local_ip = "not-an-ip"`,
		},
		{
			name: "sapi out of range",
			in: `bind_ip = "192.0.2.1"
			[engine]
			sapis = [0, 300]`,
		},
		{
			name: "malformed tei_map entry",
			in: `bind_ip = "192.0.2.1"
			[engine]
			tei_map = [[0, 0, 0]]`,
		},
		{
			name: "channel without socket_path",
			in: `bind_ip = "192.0.2.1"
			[channel.rsl_oml]
			remote_end_id = [1]`,
		},
		{
			name: "unknown channel key",
			in: `bind_ip = "192.0.2.1"
			[channel.rsl_oml]
			socket_path = "/tmp/x.sock"
			nonsense = 1`,
		},
	}
	for _, c := range cases {
		if _, err := LoadString(c.in); err == nil {
			t.Errorf("LoadString(%s) succeeded, want error", c.name)
		}
	}
}
