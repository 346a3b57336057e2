// Command aqua-control drives a pool-equipment RS-485 bus: a JXI-style
// gas heater and an RS-485 control panel, optionally exporting
// bus-health counters (not device properties) over /metrics.
package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/GoAethereal/cancel"
	"github.com/daedaluz/goserial"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	aqualink "github.com/mrnuke/aqualink-control"
	"github.com/mrnuke/aqualink-control/internal/metrics"
)

// heaterAddr matches the address main.c registers its single JXI
// heater at (add_slave(&ctx, 0x68, &jxi_heater_ops)).
const heaterAddr = 0x68

// panelAddr is the conventional RS-485 control-panel address used
// throughout the C original's fixtures.
const panelAddr = 0x08

func main() {
	tty := flag.String("tty", "/dev/ttyS0", "serial device connected to the RS-485 bus")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9100)")
	flag.Parse()

	log := slog.Default()

	port, err := openBus(*tty)
	if err != nil {
		log.Error("failed to open bus", "tty", *tty, "err", err)
		os.Exit(1)
	}
	defer port.Close()

	bus := metrics.NewBus(prometheus.Labels{"tty": *tty})
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(bus)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Error("metrics server exited", "err", err)
			}
		}()
		log.Info("serving metrics", "addr", *metricsAddr)
	}

	sched := aqualink.NewScheduler(aqualink.Config{}, port, log, bus)
	if _, err := sched.AddDevice(heaterAddr, aqualink.Heater{}); err != nil {
		log.Error("failed to register heater", "err", err)
		os.Exit(1)
	}
	if _, err := sched.AddDevice(panelAddr, &aqualink.ControlPanel{}); err != nil {
		log.Error("failed to register panel", "err", err)
		os.Exit(1)
	}

	root := cancel.New()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		root.Cancel()
	}()

	if err := sched.Run(root); err != nil {
		log.Error("scheduler exited", "err", err)
		os.Exit(1)
	}
}

// openBus opens name as a raw, RS-485-framed tty at 9600 8N1 — the
// JXI control bus's fixed line parameters (main.c's open_tty).
func openBus(name string) (*serial.Port, error) {
	port, err := serial.Open(name, nil)
	if err != nil {
		return nil, err
	}

	attrs, err := port.GetAttr()
	if err != nil {
		port.Close()
		return nil, err
	}
	attrs.MakeRaw()
	attrs.SetSpeed(serial.B9600)
	attrs.Cflag |= serial.CS8 | serial.CREAD | serial.CLOCAL
	if err := port.SetAttr(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, err
	}

	if err := port.SetRS485(&serial.RS485{
		Flags: serial.RS485Enabled | serial.RS485RTSOnSend,
	}); err != nil {
		port.Close()
		return nil, err
	}

	return port, nil
}
