// Command tscadcd binds TI touchscreen/ADC controllers described in a config
// directory and serves their state over HTTP.
// Run with --mock to use simulated registers (no /dev/mem access required).
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/physic"

	"github.com/micro-nova/tscadc-go/internal/api"
	"github.com/micro-nova/tscadc-go/internal/auth"
	"github.com/micro-nova/tscadc-go/internal/cells"
	"github.com/micro-nova/tscadc-go/internal/config"
	"github.com/micro-nova/tscadc-go/internal/devmgr"
	"github.com/micro-nova/tscadc-go/internal/events"
	"github.com/micro-nova/tscadc-go/internal/platform"
	"github.com/micro-nova/tscadc-go/internal/tscadc"
	"github.com/micro-nova/tscadc-go/internal/zeroconf"
)

const version = "0.3.0"

func main() {
	clockRate := 24 * physic.MegaHertz
	var (
		mock       = flag.Bool("mock", false, "use simulated registers and power domains")
		addr       = flag.String("addr", ":8080", "HTTP listen address")
		cfgDir     = flag.String("config-dir", "", "directory of device descriptions (default: built-in AM335x board in mock mode)")
		stateDir   = flag.String("state-dir", "/run/tscadc", "directory for region lock files and operators.json")
		maxCtl     = flag.Int("max-controllers", 4, "maximum number of live controllers (0 = unlimited)")
		retryEvery = flag.Duration("retry", 5*time.Second, "interval between probe retries of unbound devices")
		noMDNS     = flag.Bool("no-mdns", false, "do not advertise the API over mDNS")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Var(&clockRate, "clock-rate", "functional clock rate in mock mode, or to override the clock tree (e.g. 24MHz)")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if err := os.MkdirAll(*stateDir, 0o755); err != nil {
		slog.Error("cannot create state directory", "path", *stateDir, "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Platform collaborators
	var (
		space  platform.AddressSpace
		mapper platform.Mapper
		clocks platform.ClockSource
	)
	if *mock {
		slog.Info("using simulated platform", "clock", clockRate.String())
		space = platform.NewTable()
		mapper = platform.NewMemMapper()
		clocks = platform.StaticClocks{tscadc.FunctionalClock: clockRate}
	} else {
		hw, err := newHardwarePlatform(*stateDir)
		if err != nil {
			slog.Error("hardware platform unavailable", "err", err)
			os.Exit(1)
		}
		space, mapper, clocks = hw.space, hw.mapper, hw.clocks
		if isFlagSet("clock-rate") {
			clocks = platform.StaticClocks{tscadc.FunctionalClock: clockRate}
		}
	}

	drv := tscadc.NewDriver(space, mapper, platform.NewPower(clocks), cells.Default())
	drv.MaxControllers = *maxCtl

	bus := events.NewBus()
	mgr := devmgr.New(bus, *retryEvery)
	if err := mgr.RegisterDriver(drv); err != nil {
		slog.Error("driver registration failed", "err", err)
		os.Exit(1)
	}

	// Device descriptions
	// Everything that can bind devices runs in bg and is joined before
	// teardown.
	var bg errgroup.Group
	if *cfgDir != "" {
		store := config.NewJSONStore(*cfgDir)
		bg.Go(func() error {
			err := mgr.Watch(ctx, store)
			if err != nil {
				slog.Error("config watch failed", "dir", *cfgDir, "err", err)
			}
			return err
		})
	} else {
		if !*mock {
			slog.Warn("no --config-dir given; using built-in AM335x description")
		}
		if err := mgr.Load(config.NewMemStore(config.AM335x())); err != nil {
			slog.Error("loading built-in description failed", "err", err)
			os.Exit(1)
		}
	}
	bg.Go(func() error {
		mgr.RetryLoop(ctx, *retryEvery)
		return nil
	})

	authSvc, err := auth.NewService(*stateDir)
	if err != nil {
		slog.Error("auth service initialization failed", "err", err)
		os.Exit(1)
	}
	defer authSvc.Close()

	if !*noMDNS {
		hostname, _ := os.Hostname()
		zc := zeroconf.New(hostname, listenPort(*addr), func() []string {
			devs := mgr.Devices()
			bound := 0
			for _, d := range devs {
				if d.Bound {
					bound++
				}
			}
			return zeroconf.Records(version, len(devs), bound)
		})
		zc.RefreshOn(bus.Subscribe("zeroconf"))
		go func() {
			if err := zc.Start(ctx); err != nil {
				slog.Warn("zeroconf failed", "err", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         *addr,
		Handler:      api.NewRouter(mgr, authSvc, bus),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout (needed for SSE)
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		slog.Info("tscadcd listening", "addr", *addr, "mock", *mock, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}
	_ = bg.Wait()
	if err := mgr.Shutdown(); err != nil {
		slog.Warn("device teardown incomplete", "err", err)
	}
	slog.Info("shutdown complete")
}

// hardwarePlatform holds the collaborators used against real registers.
type hardwarePlatform struct {
	space  platform.AddressSpace
	mapper platform.Mapper
	clocks platform.ClockSource
}

// listenPort extracts the port of a listen address, defaulting to 80.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 80
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 80
	}
	return n
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
