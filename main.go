package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"cardwedge/emit"
	"cardwedge/engine"
	"cardwedge/eventpipe"
	"cardwedge/indicator"
	"cardwedge/logger"
	"cardwedge/mqtt"
	"cardwedge/status"
)

var myBuild string

// App holds the application state and dependencies.
type App struct {
	cfg        *Config
	log        zerolog.Logger
	mqtt       *mqtt.Client
	mqttUp     prometheus.Gauge
	status     *status.Publisher
	indicator  indicator.Indicator
	emitter    emit.Emitter
	controller *Controller
	pipe       *eventpipe.EventPipe
	metrics    *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
}

func main() {
	cfgfile := flag.String("cfg", "cardwedge.cfg", "Config file")
	noGUI := flag.Bool("no-gui", false, "Headless: no control pipe, start reading immediately")
	autostart := flag.Bool("autostart", false, "Start reading immediately")
	noBuzz := flag.Bool("no-buzz", false, "Do not beep when a card is accepted")
	verbose := flag.Bool("verbose", false, "Log periodic status dumps at info level")
	debug := flag.Bool("debug", false, "Debug logging")
	flag.Parse()

	cfg, err := loadConfig(*cfgfile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Load config")
	}

	if *noBuzz {
		off := false
		cfg.Reader.Buzz = &off
	}
	if *verbose {
		cfg.Engine.Verbose = true
	}
	if *debug {
		cfg.Log.Debug = true
	}
	if *noGUI {
		cfg.Control.Path = ""
		cfg.Autostart = true
	}
	if *autostart {
		cfg.Autostart = true
	}

	cfg.applyDefaults()
	if err := logger.Init(cfg.Log); err != nil {
		logger.Fatal().Err(err).Msg("Init logger")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid config")
	}

	log := logger.WithComponent("main")
	log.Info().Str("build", myBuild).Msg("cardwedge starting")

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		cfg:    cfg,
		log:    log,
		status: status.NewPublisher(),
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.init(); err != nil {
		log.Fatal().Err(err).Msg("Init")
	}

	if app.mqtt.IsEnabled() {
		go func() {
			if err := app.mqtt.Connect(); err != nil {
				log.Error().Err(err).Msg("MQTT connect")
			}
		}()
	}
	if app.pipe != nil {
		go app.pipe.Start()
	}
	if app.metrics != nil {
		go app.serveMetrics()
	}

	if cfg.Autostart {
		if err := app.controller.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Start reading")
		}
	} else {
		log.Info().Str("control", cfg.Control.Path).Msg("Waiting for a start command")
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down...")
	app.shutdown()
	log.Info().Msg("Shutdown complete")
}

func (app *App) init() error {
	cfg := app.cfg

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.mqttUp = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name: "cardwedge_mqtt_connected",
		Help: "1 while the MQTT broker connection is up.",
	})

	var err error
	app.mqtt, err = mqtt.New(cfg.MQTT, mqtt.Handlers{
		OnConnect:    app.onMQTTConnect,
		OnDisconnect: app.onMQTTDisconnect,
		OnMessage:    app.onMQTTMessage,
	}, logger.WithComponent("mqtt"))
	if err != nil {
		return fmt.Errorf("init MQTT: %w", err)
	}

	// Interfaces stay nil when MQTT is off so the sinks are skipped.
	var (
		statusPub indicator.RetainedPublisher
		cardPub   emit.Publisher
	)
	if app.mqtt.IsEnabled() {
		statusPub, cardPub = app.mqtt, app.mqtt
	} else if cfg.Indicator.MQTT || cfg.Emit.MQTT {
		app.log.Warn().Msg("MQTT output configured but no broker host set, skipping")
	}

	app.indicator, err = indicator.New(cfg.Indicator, statusPub, app.mqtt.Topic("status"), logger.WithComponent("indicator"))
	if err != nil {
		return fmt.Errorf("init indicator: %w", err)
	}
	app.status.OnChange(app.indicator.Update)
	app.indicator.Update(app.status.Snapshot())

	app.emitter, err = emit.New(cfg.Emit, cardPub, app.mqtt.Topic("card"), logger.WithComponent("emit"))
	if err != nil {
		return fmt.Errorf("init emitter: %w", err)
	}

	transport, err := newTransport(cfg.Terminal)
	if err != nil {
		return fmt.Errorf("init terminal: %w", err)
	}
	prefs, err := cfg.preferences()
	if err != nil {
		return err
	}

	metrics := engine.NewMetrics(reg)
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		app.metrics = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	engineLog := logger.WithComponent("engine")
	app.controller = NewController(func() (*engine.Engine, error) {
		return engine.New(cfg.Engine, cfg.Reader, engine.Deps{
			Transport:   transport,
			Preferences: prefs,
			Emitter:     app.emitter,
			Status:      app.status,
			Metrics:     metrics,
			Log:         engineLog,
		})
	}, app.status, logger.WithComponent("control"))

	app.pipe, err = eventpipe.New(cfg.Control, func(cmd eventpipe.Command) {
		app.controller.Handle(app.ctx, cmd)
	}, logger.WithComponent("control"))
	if err != nil {
		return fmt.Errorf("init control pipe: %w", err)
	}
	return nil
}

func (app *App) serveMetrics() {
	app.log.Info().Str("listen", app.metrics.Addr).Msg("Serving metrics")
	if err := app.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.log.Error().Err(err).Msg("Metrics server")
	}
}

func (app *App) shutdown() {
	app.cancel()
	app.controller.Stop()

	if app.pipe != nil {
		if err := app.pipe.Close(); err != nil {
			app.log.Debug().Err(err).Msg("Close control pipe")
		}
	}
	if app.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		app.metrics.Shutdown(ctx)
	}

	app.mqtt.Disconnect()
	if err := app.emitter.Close(); err != nil {
		app.log.Error().Err(err).Msg("Close emitter")
	}
	if err := app.indicator.Release(); err != nil {
		app.log.Error().Err(err).Msg("Release indicator")
	}
}

func (app *App) onMQTTConnect() {
	app.mqttUp.Set(1)
	if err := app.mqtt.Subscribe(app.mqtt.Topic("control")); err != nil {
		app.log.Error().Err(err).Msg("Subscribe")
	}
}

func (app *App) onMQTTDisconnect() {
	app.mqttUp.Set(0)
}

func (app *App) onMQTTMessage(topic string, payload []byte) {
	if topic != app.mqtt.Topic("control") {
		return
	}
	cmd, err := eventpipe.ParseCommand(strings.TrimSpace(string(payload)))
	if err != nil {
		app.log.Warn().Err(err).Msg("MQTT control")
		return
	}
	go app.controller.Handle(app.ctx, cmd)
}
