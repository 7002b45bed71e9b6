package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/telsys/go-l2tpd/config"
	"github.com/telsys/go-l2tpd/l2tpd"
	"golang.org/x/sys/unix"
)

type application struct {
	config  *config.Config
	logger  log.Logger
	sock    *rawSocket
	inst    *l2tpd.Instance
	relay   *relay
	sigChan chan os.Signal
	wg      sync.WaitGroup
}

func newApplication(configPath string, verbose bool) (*application, error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, unix.SIGINT, unix.SIGTERM)

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %v", err)
	}

	logger := log.NewLogfmtLogger(os.Stderr)
	if verbose {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	bindIP := net.ParseIP(cfg.BindIP)
	if bindIP == nil {
		return nil, fmt.Errorf("invalid bind_ip '%v'", cfg.BindIP)
	}
	sock, err := newRawSocket(bindIP)
	if err != nil {
		return nil, fmt.Errorf("failed to open L2TP IP socket: %v", err)
	}

	rly, err := newRelay(logger, cfg.Channels)
	if err != nil {
		sock.close()
		return nil, err
	}

	inst := l2tpd.NewInstance(logger, cfg.Engine, sock, prometheus.DefaultRegisterer)
	inst.RegisterEventHandler(rly)
	inst.RegisterDataHandler(rly)
	rly.start(inst)

	return &application{
		config:  cfg,
		logger:  logger,
		sock:    sock,
		inst:    inst,
		relay:   rly,
		sigChan: sigChan,
	}, nil
}

// readLoop feeds datagrams from the raw socket into the engine until
// the socket is closed.
func (app *application) readLoop() {
	defer app.wg.Done()
	buf := make([]byte, 65536)
	for {
		n, peer, err := app.sock.recvFrom(buf)
		if err != nil {
			return
		}
		if peer == nil {
			continue
		}
		b := make([]byte, n)
		copy(b, buf[:n])
		app.inst.HandleInbound(b, peer)
	}
}

func (app *application) serveMetrics(addr string) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			level.Error(app.logger).Log("message", "metrics endpoint failed", "error", err)
		}
	}()
}

func (app *application) run() int {
	app.wg.Add(1)
	go app.readLoop()

	if app.config.MetricsAddress != "" {
		level.Info(app.logger).Log(
			"message", "serving metrics",
			"address", app.config.MetricsAddress)
		app.serveMetrics(app.config.MetricsAddress)
	}

	level.Info(app.logger).Log(
		"message", "daemon running",
		"bind_ip", app.config.BindIP)

	<-app.sigChan
	level.Info(app.logger).Log("message", "shutting down")

	app.inst.Close()
	app.relay.close()
	app.sock.close()
	return 0
}

func main() {
	cfgPath := flag.String("config", "/etc/l2tpd/l2tpd.toml", "configuration file path")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	app, err := newApplication(*cfgPath, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	os.Exit(app.run())
}
