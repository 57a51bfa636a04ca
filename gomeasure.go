package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lautenbacher.net/gomeasure/config"
	"lautenbacher.net/gomeasure/history"
	"lautenbacher.net/gomeasure/logging"
	"lautenbacher.net/gomeasure/metrics"
	"lautenbacher.net/gomeasure/peripheral"
	"lautenbacher.net/gomeasure/platform"
	"lautenbacher.net/gomeasure/scheduler"
	"lautenbacher.net/gomeasure/util"
)

// runtime is one running deployment: platform, optional channels and the
// scheduler driving them. A reload stops it and builds a new one.
type runtime struct {
	kind     string
	platform platform.Platform
	serial   *platform.SerialPort
	notifier *platform.MQTTNotifier
	recorder *history.Recorder
	sched    *scheduler.Scheduler
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// logLines writes reporter lines to the log when no other line sink exists.
type logLines struct{}

func (logLines) SendLine(text string) error {
	slog.Info("Report", "line", text)
	return nil
}

func main() {
	cfile := flag.String("config", config.CONFILE, "path to the config file")
	kind := flag.String("platform", platform.KindTUI, "platform to run on: sim, tui or rpi")
	flag.Parse()

	conf, err := config.ReadConfig(*cfile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	tui := *kind == platform.KindTUI
	logCfg := conf.Logging.HW
	if tui {
		logCfg = conf.Logging.TUI
	}
	if err := logging.Init(logCfg, tui); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() {
		if err := logging.Close(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}()

	if err := run(*cfile, *kind, conf); err != nil {
		slog.Error("Exiting", "error", err)
		logging.Close()
		os.Exit(1)
	}
}

func run(cfile, kind string, conf config.Config) error {
	ossignal := make(chan os.Signal, 1)
	signal.Notify(ossignal, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	watcher, err := watchConfig(cfile, ossignal)
	if err != nil {
		slog.Warn("Config changes will not be picked up automatically", "error", err)
	} else {
		defer watcher.Close()
	}

	current, reader := util.NewCell[*runtime](nil)
	mux := newMux(cfile, reader)

	if conf.HTTP.Listen != "" {
		srv := &http.Server{
			Addr:              conf.HTTP.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("HTTP server listening", "addr", conf.HTTP.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("HTTP server failed", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	rt, err := start(conf, kind, ossignal)
	if err != nil {
		return err
	}
	current.Store(rt)

	for sig := range ossignal {
		if sig != syscall.SIGHUP {
			slog.Info("Shutting down", "signal", sig.String())
			break
		}
		newConf, err := config.ReadConfig(cfile)
		if err != nil {
			slog.Error("Keeping the running config", "error", err)
			continue
		}
		slog.Info("Reloading config", "file", cfile)
		if newConf.HTTP.Listen != conf.HTTP.Listen {
			slog.Warn("HTTP listen address changes need a restart", "running", conf.HTTP.Listen)
		}
		rt.stop()
		logging.SetLevel(logLevel(newConf, kind))
		rt, err = start(newConf, kind, ossignal)
		if err != nil {
			current.Store(nil)
			return err
		}
		current.Store(rt)
	}

	current.Store(nil)
	rt.stop()
	return nil
}

func logLevel(conf config.Config, kind string) string {
	if kind == platform.KindTUI {
		return conf.Logging.TUI.Level
	}
	return conf.Logging.HW.Level
}

// start brings up the platform and its channels and starts the scheduler.
func start(conf config.Config, kind string, ossignal chan os.Signal) (*runtime, error) {
	p, err := platform.New(kind, &conf, ossignal)
	if err != nil {
		return nil, err
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("can't start platform %s: %w", kind, err)
	}
	<-p.Ready()

	rt := &runtime{kind: kind, platform: p}
	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel

	caps := scheduler.Capabilities{Input: p, Output: p}
	if tui, ok := p.(*platform.TUIPlatform); ok {
		caps.Lines = append(caps.Lines, tui)
	}

	var commands <-chan peripheral.Edge
	if conf.Serial.Enabled {
		rt.serial = platform.NewSerialPort(conf.Serial)
		if err := rt.serial.Open(); err != nil {
			rt.stop()
			return nil, err
		}
		caps.Lines = append(caps.Lines, rt.serial)
		commands = rt.serial.Edges()
	}
	if len(caps.Lines) == 0 {
		caps.Lines = append(caps.Lines, logLines{})
	}

	if conf.MQTT.Enabled {
		rt.notifier = platform.NewMQTTNotifier(conf.MQTT)
		// notifications are best effort, the breaker absorbs a dead broker
		if err := rt.notifier.Connect(ctx); err != nil {
			slog.Warn("Running without notifications", "error", err)
		}
		caps.Notifier = rt.notifier
	}

	if conf.Influx.Enabled {
		rt.recorder = history.New(conf.Influx, conf.Name)
		caps.Recorder = rt.recorder
	}

	rt.sched, err = scheduler.New(conf, caps)
	if err != nil {
		rt.stop()
		return nil, err
	}
	rt.sched.Start(ctx)

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		rt.sched.Listen(ctx, p.Edges(), commands)
	}()

	if sim, ok := p.(*platform.SimPlatform); ok {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			sim.Drive(ctx, conf.Timers[conf.Tasks.SampleTimer])
		}()
	}

	slog.Info("Started", "name", conf.Name, "platform", kind, "mode", conf.Tasks.Mode, "enabled", conf.Enabled)
	return rt, nil
}

// stop halts the scheduler first so the outputs are left in the safe state,
// then releases the platform and the channels.
func (rt *runtime) stop() {
	if rt.kind == platform.KindTUI {
		logging.Hold()
	}
	if rt.sched != nil {
		rt.sched.Stop()
	}
	if rt.cancel != nil {
		rt.cancel()
	}
	rt.wg.Wait()
	rt.platform.Stop()
	if rt.serial != nil {
		if err := rt.serial.Close(); err != nil {
			slog.Warn("Error closing serial port", "error", err)
		}
	}
	if rt.notifier != nil {
		rt.notifier.Close()
	}
	if rt.recorder != nil {
		rt.recorder.Close()
	}
}

// watchConfig sends SIGHUP on ossignal whenever cfile is written. The
// directory is watched so that editors replacing the file are noticed too.
func watchConfig(cfile string, ossignal chan os.Signal) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(cfile)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				slog.Debug("Config file changed", "file", event.Name, "op", event.Op.String())
				// a pending reload covers this change as well
				select {
				case ossignal <- syscall.SIGHUP:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Config watcher error", "error", err)
			}
		}
	}()
	return watcher, nil
}

type stateResponse struct {
	scheduler.State
	Outputs platform.OutputView `json:"outputs"`
}

func newMux(cfile string, current *util.CellReader[*runtime]) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if current.Load() == nil {
			http.Error(w, "not running", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rt := current.Load()
		if rt == nil {
			http.Error(w, "not running", http.StatusServiceUnavailable)
			return
		}
		resp := stateResponse{State: rt.sched.State(), Outputs: rt.platform.Outputs()}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Warn("Failed to encode state", "error", err)
		}
	})
	mux.Handle("/api/config", config.ConfigHandler(cfile))
	return mux
}
