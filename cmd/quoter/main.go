package main

import (
	"context"
	"flag"
	"log"
	"sync"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"quoter/internal/admin"
	"quoter/internal/bus"
	"quoter/internal/journal"
	"quoter/internal/mdg"
	"quoter/internal/obs"
	"quoter/internal/ops"
	"quoter/internal/process"
	"quoter/internal/risk"
	"quoter/internal/venue/sim"
	"quoter/internal/venue/wsgate"
	"quoter/pkg/conn"
	"quoter/pkg/exception"
)

const controlCapacity = 64

func main() {
	configPath := flag.String("config", "config/quoter.yaml", "Path to YAML config")
	configReload := flag.Duration("config-reload-interval", ops.DefaultReloadInterval, "Config reload interval (0=disable)")
	venueKind := flag.String("venue", "", "Venue kind override (sim|ws)")
	adminAddr := flag.String("admin-addr", "", "Admin HTTP address override")
	activate := flag.Bool("activate", false, "Activate the node once started")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("load config %s failed: %+v", *configPath, err)
	}
	if *venueKind != "" {
		loaded.Venue.Kind = *venueKind
	}
	if *adminAddr != "" {
		loaded.Admin.Addr = *adminAddr
	}

	if loaded.Profiling.PyroscopeServer != "" {
		profiler, err := startProfiler(loaded.Profiling)
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sys.Shutdown()
		cancel()
	}()

	if err := run(ctx, *configPath, *configReload, loaded, *activate || loaded.Activate); err != nil {
		log.Fatalf("quoter failed: %+v", err)
	}
}

func run(ctx context.Context, configPath string, reload time.Duration, loaded ops.Loaded, activate bool) error {
	metrics := obs.NewMetrics()
	control := bus.NewQueue[bus.Command](controlCapacity)

	var recorder *journal.Journal
	if loaded.Journal.Postgres.Enabled() {
		client, err := conn.New(loaded.Journal.Postgres)
		if err != nil {
			return err
		}
		defer client.Close()

		store, err := journal.NewGormStore(client.DB())
		if err != nil {
			return err
		}
		recorder = journal.New(store, loaded.Journal.Writer, metrics)
		recorder.Start()
		defer recorder.Close()
		logs.Infof("order journal enabled")
	}

	// Background helpers stop only after the supervisor has settled, so the admin surface stays
	// reachable during shutdown.
	auxCtx, auxCancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		auxCancel()
		wg.Wait()
	}()

	dial, err := dialer(auxCtx, &wg, loaded, metrics)
	if err != nil {
		return err
	}

	deps := process.Deps{
		Dial:     dial,
		Registry: loaded.Registry,
		Control:  control,
		Risk:     risk.NewEngine(loaded.Risk),
		Metrics:  metrics,
	}
	if recorder != nil {
		deps.Recorder = recorder
	}

	sup, err := process.New(loaded.Process, deps)
	if err != nil {
		return err
	}
	defer func() {
		if err := sup.Close(); err != nil {
			logs.Errorf("close supervisor, err: %+v", err)
		}
	}()

	if loaded.Admin.Addr != "" {
		server := admin.NewServer(control, sup, metrics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ListenAndServe(auxCtx, loaded.Admin.Addr); err != nil {
				logs.Errorf("admin server, err: %+v", err)
			}
		}()
	}

	if reload > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ops.Watch(auxCtx, configPath, reload, func(l ops.Loaded) {
				publish(control, bus.Command{Kind: bus.CommandReconfig, Payload: l.Process, Source: "config"})
			})
		}()
	}

	publish(control, bus.Command{Kind: bus.CommandStart, Source: "main"})
	if activate {
		publish(control, bus.Command{Kind: bus.CommandActivate, Source: "main"})
	}

	sup.Run(ctx)
	logs.Infof("quoter shut down, stats: %+v", sup.Status().Stats)
	return nil
}

func dialer(ctx context.Context, wg *sync.WaitGroup, loaded ops.Loaded, metrics *obs.Metrics) (process.Dialer, error) {
	switch loaded.Venue.Kind {
	case ops.VenueWS:
		return wsgate.Dial(loaded.Venue.WS, loaded.Registry, metrics), nil
	case ops.VenueSim:
		feedCfg := loaded.Venue.Feed
		if feedCfg == nil {
			return sim.Dial(loaded.Venue.Sim, metrics, nil), nil
		}
		gen, err := mdg.NewGenerator(loaded.Registry, *feedCfg)
		if err != nil {
			return nil, err
		}
		norm := mdg.NewNormalizer(loaded.Registry, loaded.Venue.FeedDepth)
		return sim.Dial(loaded.Venue.Sim, metrics, func(v *sim.Venue) {
			feed := mdg.NewFeed(gen, norm, v, feedCfg.Interval)
			wg.Add(1)
			go func() {
				defer wg.Done()
				feed.Run(ctx)
			}()
		}), nil
	default:
		return nil, errors.Wrap(exception.ErrConfigUnknownVenue, "dialer").With("kind", loaded.Venue.Kind)
	}
}

func publish(control *bus.Queue[bus.Command], cmd bus.Command) {
	cmd.At = time.Now()
	if err := control.TryPublish(cmd); err != nil {
		logs.Warnf("publish %s command, err: %+v", cmd.Kind, err)
	}
}

func startProfiler(cfg ops.ProfilingConfig) (*pyroscope.Profiler, error) {
	name := cfg.AppName
	if name == "" {
		name = "quoter"
	}
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: name,
		ServerAddress:   cfg.PyroscopeServer,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
}
