// cmd/ade7880-host/main.go

// Command ade7880-host runs one or more ADE7880 meters on a Linux I2C bus,
// exposes their readings as Prometheus metrics and optionally records every
// published message to a CBOR capture file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ade7880-go/bus"
	"ade7880-go/drivers/ade7880/adetest"
	"ade7880-go/services/config"
	"ade7880-go/services/meter"
	"ade7880-go/sink/cborsink"
	"ade7880-go/sink/promsink"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"
)

const defaultSpeedHz = 400_000

type options struct {
	configPath string
	board      string
	simulate   bool
	logLevel   string
	logJSON    bool
	dump       bool
	capture    string
	listen     string
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.configPath, "config", "", "YAML config file (default: embedded board config)")
	flag.StringVar(&o.board, "board", "ref50", "embedded board config used when -config is empty")
	flag.BoolVar(&o.simulate, "simulate", false, "use in-memory chips instead of the I2C bus")
	flag.StringVar(&o.logLevel, "log-level", "info", "debug, info, warn or error")
	flag.BoolVar(&o.logJSON, "log-json", false, "log as JSON")
	flag.BoolVar(&o.dump, "dump", false, "log each meter's configuration after setup")
	flag.StringVar(&o.capture, "capture", "", "CBOR capture file (overrides config)")
	flag.StringVar(&o.listen, "listen", "", "metrics listen address (overrides config)")
	flag.Parse()
	return o
}

func newLogger(o options) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	if o.logJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, hopts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, hopts)), nil
}

func loadConfig(o options) (*config.File, error) {
	var (
		f   *config.File
		err error
	)
	if o.configPath != "" {
		f, err = config.Load(o.configPath)
	} else {
		f, err = config.Embedded(o.board)
	}
	if err != nil {
		return nil, err
	}
	if o.capture != "" {
		f.Capture.Path = o.capture
	}
	if o.listen != "" {
		f.Metrics.Listen = o.listen
	}
	return f, nil
}

// irqPin adapts a periph GPIO to meter.IRQPin. The ADE7880 IRQ lines are
// open drain and active low.
type irqPin struct {
	name string
	pin  gpio.PinIO
}

func (p *irqPin) Configure() error {
	if p.pin == nil {
		return fmt.Errorf("gpio %q not found", p.name)
	}
	return p.pin.In(gpio.PullUp, gpio.NoEdge)
}

func (p *irqPin) Number() int {
	if p.pin == nil {
		return -1
	}
	return p.pin.Number()
}

// openBus returns the I2C bus for the host and a closer for it.
func openBus(cfg config.Bus) (drivers.I2C, func() error, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("periph init: %w", err)
	}
	b, err := i2creg.Open(cfg.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("open i2c %q: %w", cfg.Name, err)
	}
	hz := cfg.SpeedHz
	if hz <= 0 {
		hz = defaultSpeedHz
	}
	if err := b.SetSpeed(physic.Frequency(hz) * physic.Hertz); err != nil {
		return nil, nil, multierr.Append(fmt.Errorf("i2c speed: %w", err), b.Close())
	}
	return b, b.Close, nil
}

func buildMeters(f *config.File, o options, conn *bus.Connection, lg *slog.Logger) ([]*meter.Meter, func() error, error) {
	var (
		shared  drivers.I2C
		closeFn = func() error { return nil }
	)
	if !o.simulate {
		b, c, err := openBus(f.Bus)
		if err != nil {
			return nil, nil, err
		}
		shared, closeFn = b, c
	}

	meters := make([]*meter.Meter, 0, len(f.Meters))
	for i := range f.Meters {
		mc := &f.Meters[i]
		dcfg := mc.ToDriver()

		i2c := shared
		if o.simulate {
			chip := adetest.NewChip()
			if dcfg.Address != 0 {
				chip.SetAddress(dcfg.Address)
			}
			chip.LoadNominal()
			i2c = chip
		}

		opts := meter.Options{
			Name:           mc.Name,
			Driver:         dcfg,
			SetupDelay:     mc.SetupDelay,
			UpdateInterval: mc.UpdateInterval,
			Logger:         lg,
			Conn:           conn,
		}
		if mc.IRQPin != "" && !o.simulate {
			opts.IRQ = &irqPin{name: mc.IRQPin, pin: gpioreg.ByName(mc.IRQPin)}
		}
		m, err := meter.New(i2c, opts)
		if err != nil {
			return nil, nil, multierr.Append(fmt.Errorf("meter %q: %w", mc.Name, err), closeFn())
		}
		chs, err := mc.ChannelList()
		if err != nil {
			return nil, nil, multierr.Append(err, closeFn())
		}
		for _, ch := range chs {
			if err := m.Bind(ch, meter.NewBusSensor(conn, mc.Name, ch)); err != nil {
				return nil, nil, multierr.Append(err, closeFn())
			}
		}
		meters = append(meters, m)
	}
	return meters, closeFn, nil
}

func run(ctx context.Context, o options, lg *slog.Logger) (err error) {
	f, err := loadConfig(o)
	if err != nil {
		return err
	}

	b := bus.NewBus(64)
	conn := b.NewConnection("host")
	defer conn.Disconnect()
	svc := config.NewConfigService()
	if o.configPath == "" {
		bctx := context.WithValue(ctx, config.CtxBoardKey, o.board)
		if err := <-svc.Start(bctx, conn); err != nil {
			return err
		}
	} else {
		svc.Publish(conn, f)
	}

	meters, closeBus, err := buildMeters(f, o, conn, lg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeBus()) }()

	g, ctx := errgroup.WithContext(ctx)

	if f.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		sink, err := promsink.New(reg)
		if err != nil {
			return err
		}
		sub := conn.Subscribe(bus.T(meter.TokMeter, bus.MultiLevel))
		g.Go(func() error {
			sink.Run(ctx, sub)
			return nil
		})

		path := f.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux := http.NewServeMux()
		mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: f.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			lg.Info("metrics listening", "addr", f.Metrics.Listen, "path", path)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if f.Capture.Path != "" {
		w, err := cborsink.Create(f.Capture.Path)
		if err != nil {
			return err
		}
		sub := conn.Subscribe(bus.T(meter.TokMeter, bus.MultiLevel))
		g.Go(func() error {
			runErr := w.Run(ctx, sub)
			lg.Info("capture closed", "path", f.Capture.Path, "records", w.Count())
			return multierr.Append(runErr, w.Close())
		})
	}

	g.Go(func() error {
		r := meter.NewRunner()
		if o.dump {
			var delay time.Duration
			for _, m := range meters {
				delay = max(delay, m.SetupDelay())
			}
			// Requeue so the dump lands after the initialization due at
			// the same instant.
			r.AfterFunc(delay, func() {
				r.AfterFunc(0, func() {
					for _, m := range meters {
						m.Dump()
					}
				})
			})
		}
		if err := r.Run(ctx, meters...); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	return g.Wait()
}

func main() {
	o := parseFlags()
	lg, err := newLogger(o)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(lg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, lg); err != nil {
		lg.Error("exit", "err", err)
		os.Exit(1)
	}
}
