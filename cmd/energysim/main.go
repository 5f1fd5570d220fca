package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jefry5/energy-monitor-si/internal/baseline"
	"github.com/jefry5/energy-monitor-si/internal/config"
	"github.com/jefry5/energy-monitor-si/internal/consumption"
	"github.com/jefry5/energy-monitor-si/internal/engine"
	"github.com/jefry5/energy-monitor-si/internal/logger"
	"github.com/jefry5/energy-monitor-si/internal/pid"
	"github.com/jefry5/energy-monitor-si/internal/relay"
	"github.com/jefry5/energy-monitor-si/internal/simmode"
	"github.com/jefry5/energy-monitor-si/internal/transport"
)

const connectRetryDelay = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel)
	logger.Info().
		Str("building", cfg.BuildingID).
		Str("mode", cfg.Mode).
		Str("anomaly_area", cfg.AnomalyArea).
		Str("broker", cfg.Broker).
		Int("qos", cfg.QoS).
		Int("areas", len(cfg.Areas)).
		Int("interval_s", cfg.Interval).
		Msg("energy monitor simulator starting")

	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to acquire pid file")
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Error().Err(err).Msg("failed to remove pid file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("simulator failed")
	}

	logger.Info().Msg("exiting")
}

func run(ctx context.Context, cfg *config.Config) error {
	mode, err := simmode.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}

	relayRepo, err := relay.NewRepository(cfg.Database)
	if err != nil {
		return err
	}
	defer closeQuietly("relay repository", relayRepo.Close)

	store, err := baseline.NewStore(cfg.Database)
	if err != nil {
		return err
	}
	defer closeQuietly("baseline store", store.Close)

	baselines, err := baseline.NewTracker(store, cfg.SmoothingAlpha)
	if err != nil {
		return err
	}

	relays := relay.NewManager(areaNames(cfg), relayRepo)
	baselines.Warm(relays.Areas())

	model := consumption.New(consumption.Config{
		Seed:           cfg.Seed,
		CurveWidth:     cfg.CurveWidth,
		DayStartHour:   cfg.DayStartHour,
		NightStartHour: cfg.NightStartHour,
	})
	modes := simmode.NewEngine(cfg.AnomalyArea, mode, cfg.DayStartHour, cfg.NightStartHour)

	client, err := transport.New(transport.Config{
		BrokerURL:      cfg.Broker,
		Username:       cfg.Username,
		Password:       cfg.Password,
		TopicPrefix:    cfg.TopicPrefix,
		BuildingID:     cfg.BuildingID,
		Mode:           cfg.Mode,
		QoS:            byte(cfg.QoS),
		PublishTimeout: time.Duration(cfg.PublishTimeout) * time.Millisecond,
		ConnectTimeout: 30 * time.Second,
	})
	if err != nil {
		return err
	}

	eng := engine.New(engine.Config{
		Interval:  time.Duration(cfg.Interval) * time.Second,
		Areas:     cfg.Areas,
		Model:     model,
		Modes:     modes,
		Relays:    relays,
		Baselines: baselines,
		Publisher: client,
	})
	client.SetCommandHandler(eng.HandleCommand)

	if err := connectWithRetry(ctx, client); err != nil {
		return err
	}
	defer client.Close()

	return eng.Run(ctx)
}

// connectWithRetry keeps dialing until the broker answers or the process is
// told to stop, matching the deployment's boot ordering (the broker
// container may come up after the simulator).
func connectWithRetry(ctx context.Context, client *transport.Client) error {
	for {
		err := client.Connect()
		if err == nil {
			return nil
		}

		logger.ErrorWithCode(err).
			Dur("retry_in", connectRetryDelay).
			Msg("cannot reach broker")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(connectRetryDelay):
		}
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("received termination signal")
	cancel()
}

func areaNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Areas))
	for name := range cfg.Areas {
		names = append(names, name)
	}

	return names
}

func closeQuietly(name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error().Err(err).Msgf("failed to close %s", name)
	}
}
