// Command dglab-voice relays voice-triggered pulse commands to a paired
// DG-LAB device over WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/dglab-voice/internal/config"
	"github.com/sweeney/dglab-voice/internal/event"
	"github.com/sweeney/dglab-voice/internal/gpio"
	"github.com/sweeney/dglab-voice/internal/mdns"
	"github.com/sweeney/dglab-voice/internal/mqtt"
	"github.com/sweeney/dglab-voice/internal/pulse"
	"github.com/sweeney/dglab-voice/internal/relay"
	"github.com/sweeney/dglab-voice/internal/status"
	"github.com/sweeney/dglab-voice/internal/transcript"
	"github.com/sweeney/dglab-voice/internal/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// shutdownTimeout bounds the final clear/zero and connection flush.
const shutdownTimeout = 5 * time.Second

type options struct {
	configPath string
	httpAddr   string
	broker     string
	source     string
	printWaves bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "dglab-voice.toml", "Path to the TOML configuration file")
	flag.StringVar(&opts.httpAddr, "http", "", "HTTP listen address (overrides [server])")
	flag.StringVar(&opts.broker, "broker", "", `MQTT broker address (overrides [mqtt], "off" disables)`)
	flag.StringVar(&opts.source, "source", "", `Transcript source: "-" for stdin, a path, or "off" (overrides [transcriber])`)
	flag.BoolVar(&opts.printWaves, "print-waves", false, "Plot configured waves and exit")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	level := hclog.Info
	if *verbose {
		level = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "dglab",
		Level: level,
	})

	if err := run(opts, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(opts options, logger hclog.Logger) error {
	cfg, err := config.Load(afero.NewOsFs(), opts.configPath)
	if err != nil {
		return err
	}
	applyOverrides(cfg, opts)

	if opts.printWaves {
		return writeWaves(os.Stdout, cfg.Waves)
	}

	ln, err := net.Listen("tcp", cfg.Server.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		IntervalMs:  pulse.DefaultInterval.Milliseconds(),
		HeartbeatMs: time.Duration(cfg.MQTT.Heartbeat).Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    ln.Addr().String(),
		Rules:       len(cfg.Rules),
		Waves:       len(cfg.Waves),
		EStop:       cfg.GPIO.Enabled,
	})
	if info := readNetworkInfo(); info != nil {
		tracker.SetNetwork(info)
	}

	var button gpio.Reader
	if cfg.GPIO.Enabled {
		reader, err := gpio.NewRealReader(cfg.GPIO.Chip, cfg.GPIO.Line)
		if err != nil {
			ln.Close()
			return fmt.Errorf("init gpio: %w", err)
		}
		defer reader.Close()
		button = reader
	}

	// Initialize MQTT
	var (
		publisher  mqtt.Publisher
		mqttStatus mqtt.ConnectionStatus
		mqttSink   *mqtt.Sink
	)
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Logger:   logger.Named("mqtt"),
		})
		if err != nil {
			ln.Close()
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher, mqttStatus = p, p
		mqttSink = mqtt.NewSink(p, 0, logger.Named("mqtt"))
	}

	events := event.Multi{tracker}
	if mqttSink != nil {
		events = append(events, mqttSink)
	}

	rl := relay.New(relay.Options{
		Logger: logger.Named("relay"),
		Events: events,
	})
	controller := pulse.New(rl, cfg.Waves, cfg.Rules, pulse.Options{
		Logger: logger.Named("pulse"),
		Events: events,
	})
	rl.SetHandler(controller)

	var client http.FileSystem
	if cfg.Server.ClientDir != "" {
		client = afero.NewHttpFs(afero.NewBasePathFs(afero.NewOsFs(), cfg.Server.ClientDir))
	}
	srv := web.New(ln.Addr().String(), tracker, rl, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return controller.Run(gctx) })
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if mqttSink != nil {
		g.Go(func() error { return mqttSink.Run(gctx) })
	}
	if src := newSource(cfg.Transcriber.Source, logger.Named("transcript")); src != nil {
		g.Go(func() error {
			err := src.Run(gctx, controller.Feed)
			if errors.Is(err, pulse.ErrClosed) {
				return nil
			}
			logger.Info("transcript source ended")
			return err
		})
	}
	if button != nil {
		g.Go(func() error {
			ticker := time.NewTicker(time.Duration(cfg.GPIO.Poll))
			defer ticker.Stop()
			return gpio.Watch(gctx, button, gpio.NewButton(time.Duration(cfg.GPIO.Debounce)), ticker.C, time.Now, func() {
				controller.Halt()
				tracker.RecordHalt()
			}, logger.Named("gpio"))
		})
	}
	if cfg.MDNS.Enabled {
		advert := mdns.Advert{
			Instance: cfg.MDNS.Instance,
			Port:     ln.Addr().(*net.TCPAddr).Port,
			Path:     "/ws",
			Version:  version,
		}
		if adv, err := mdns.Register(advert, logger.Named("mdns")); err != nil {
			logger.Warn("mdns disabled", "error", err)
		} else {
			defer adv.Close()
		}
	}

	logger.Info("started", "http", ln.Addr().String(), "broker", cfg.MQTT.Broker,
		"rules", len(cfg.Rules), "waves", len(cfg.Waves), "version", version)

	// Publish startup event with full status snapshot
	if publisher != nil {
		publishSystem(publisher, mqttStatus, tracker, time.Now(), "STARTUP", "", logger)
	}

	var heartbeat <-chan time.Time
	if hb := time.Duration(cfg.MQTT.Heartbeat); hb > 0 && publisher != nil {
		ticker := time.NewTicker(hb)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	loopErr := runLoop(gctx, publisher, mqttStatus, tracker, time.Now, heartbeat, sigCh, logger)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := controller.Close(shutdownCtx); err != nil {
		logger.Debug("final commands not delivered", "error", err)
	}
	rl.Close()
	srv.Shutdown(shutdownCtx)
	cancel()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return loopErr
}

// applyOverrides applies command-line flags on top of the file configuration.
func applyOverrides(cfg *config.Config, opts options) {
	if opts.httpAddr != "" {
		host, port, err := net.SplitHostPort(opts.httpAddr)
		if err == nil {
			cfg.Server.Addr = host
			if p, err := net.LookupPort("tcp", port); err == nil {
				cfg.Server.Port = p
			}
		}
	}
	switch opts.broker {
	case "":
	case "off":
		cfg.MQTT.Broker = ""
	default:
		cfg.MQTT.Broker = opts.broker
	}
	if opts.source != "" {
		cfg.Transcriber.Source = opts.source
	}
}

// newSource returns the transcript source for spec, or nil when disabled.
func newSource(spec string, logger hclog.Logger) *transcript.Source {
	switch spec {
	case "off", "":
		return nil
	case "-":
		return transcript.NewReaderSource(os.Stdin, logger)
	default:
		return transcript.NewPathSource(afero.NewOsFs(), spec, transcript.Options{Logger: logger})
	}
}

// runLoop publishes heartbeats until a signal arrives or ctx is done, then
// publishes SHUTDOWN. publisher may be nil when MQTT is disabled.
func runLoop(ctx context.Context, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, heartbeat <-chan time.Time, sig <-chan os.Signal, logger hclog.Logger) error {
	for {
		select {
		case s := <-sig:
			logger.Info("shutting down", "signal", s.String())
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			if publisher != nil {
				publishSystem(publisher, mqttStatus, tracker, now(), "SHUTDOWN", signalName, logger)
			}
			return nil

		case <-ctx.Done():
			logger.Error("component failed, shutting down")
			if publisher != nil {
				publishSystem(publisher, mqttStatus, tracker, now(), "SHUTDOWN", "ERROR", logger)
			}
			return nil

		case <-heartbeat:
			// Refresh network info for heartbeat
			if info := readNetworkInfo(); info != nil {
				tracker.SetNetwork(info)
			}
			if publisher != nil {
				publishSystem(publisher, mqttStatus, tracker, now(), "HEARTBEAT", "", logger)
			}
		}
	}
}

// publishSystem publishes a system event carrying a full status snapshot.
// STARTUP and SHUTDOWN are retained so late subscribers see the last state.
func publishSystem(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now time.Time, name, reason string, logger hclog.Logger) {
	e := mqtt.SystemEvent{
		Timestamp: now,
		Event:     name,
		Reason:    reason,
		Retained:  name != "HEARTBEAT",
	}
	if tracker != nil {
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
		e.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), name, reason)
	}
	if err := publisher.PublishSystem(e); err != nil {
		logger.Warn("system event publish failed", "event", name, "error", err)
		return
	}
	logger.Debug("published system event", "event", name)
}

// writeWaves plots the per-frame intensities of every wave, in name order.
func writeWaves(w io.Writer, waves pulse.Waves) error {
	names := make([]string, 0, len(waves))
	for name := range waves {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := waves[name].Intensities()
		if err != nil {
			return fmt.Errorf("wave %q: %w", name, err)
		}
		fmt.Fprintf(w, "%s (%d frames, %dms)\n", name, len(waves[name]), len(waves[name])*int(pulse.DefaultInterval/time.Millisecond))
		fmt.Fprintln(w, asciigraph.Plot(data,
			asciigraph.Height(6),
			asciigraph.Width(len(data)*2),
			asciigraph.Caption(name)))
		fmt.Fprintln(w)
	}
	return nil
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
