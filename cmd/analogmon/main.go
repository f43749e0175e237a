// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

// Command analogmon samples an analog input module and reports water
// quality readings derived from the probes wired to it.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hootrhino/analogbus/device"
	"github.com/hootrhino/analogbus/internal/config"
	"github.com/hootrhino/analogbus/internal/logging"
	"github.com/hootrhino/analogbus/internal/monitor"
	"github.com/hootrhino/analogbus/internal/simulator"
	"github.com/hootrhino/analogbus/internal/telemetry"
	"github.com/hootrhino/analogbus/sensor"
)

func main() {
	cfgPath := flag.String("config", "", "Path to configuration file (defaults apply when empty)")
	simulate := flag.Bool("simulate", false, "Run against a simulated module instead of the configured port")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		os.Exit(1)
	}
	if *configCheck {
		fmt.Println("Configuration check completed successfully.")
		return
	}

	logger, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	log.Logger = logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	family, _ := device.LookupFamily(cfg.Device.Family)

	var drv *device.Driver
	if *simulate {
		drv, err = openSimulator(cfg, family, logger)
	} else {
		drv, err = connect(ctx, cfg, family, logger)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Fatal().Err(err).Msg("failed to connect")
	}
	defer drv.Close()
	logger.Info().
		Str("family", drv.Name()).
		Uint8("address", drv.Address()).
		Int("baud_rate", drv.BaudRate()).
		Int("return_time_ms", drv.ReturnTime()).
		Msg("module connected")

	quantities, err := buildQuantities(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid sensor configuration")
	}

	collector := telemetry.Noop()
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		pc, err := telemetry.NewPrometheusCollector(reg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to register metrics")
		}
		collector = pc
		go serveMetrics(ctx, cfg.Metrics.Listen, reg, logger)
	}

	reporters := []monitor.Reporter{monitor.NewConsoleReporter(os.Stdout)}
	if cfg.MQTT.Enabled {
		client, err := monitor.DialMQTT(monitor.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer client.Disconnect(250)
		reporters = append(reporters, monitor.NewMQTTReporter(client, cfg.MQTT.Topic, cfg.MQTT.QoS, 0))
	}

	mon, err := monitor.New(monitor.Config{
		Channels:      channelsRead(cfg, family),
		Samples:       cfg.Samples,
		Interval:      cfg.Interval.Duration,
		SupplyChannel: cfg.Channels.Supply,
		Quantities:    quantities,
	}, drv, reporters, collector, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create monitor")
	}

	if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("monitor stopped with error")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Load(path)
}

func driverOptions(cfg *config.Config, logger zerolog.Logger) []device.Option {
	parity, _ := device.ParseParity(cfg.Device.Parity)
	opts := []device.Option{
		device.WithLogger(logger),
		device.WithBaudRate(cfg.Device.BaudRate),
		device.WithParity(parity),
	}
	if cfg.Device.ReadTimeout.Duration > 0 {
		opts = append(opts, device.WithReadTimeout(cfg.Device.ReadTimeout.Duration))
	}
	if cfg.Device.Settle.Duration > 0 {
		opts = append(opts, device.WithSettleInterval(cfg.Device.Settle.Duration))
	}
	return opts
}

// connect retries until the module answers or ctx is cancelled.
func connect(ctx context.Context, cfg *config.Config, family device.Family, logger zerolog.Logger) (*device.Driver, error) {
	fmt.Fprintf(os.Stdout, "Connecting to %s on %s...\n", family.Name, cfg.Device.Port)
	for attempt := 1; ; attempt++ {
		drv, err := device.Connect(cfg.Device.Port, family, driverOptions(cfg, logger)...)
		if err == nil {
			return drv, nil
		}
		logger.Warn().Err(err).Int("attempt", attempt).Str("port", cfg.Device.Port).Msg("module not reachable, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.Device.RetryDelay.Duration):
		}
	}
}

// openSimulator attaches the driver to an in-process module with plausible
// probe voltages on the configured channels.
func openSimulator(cfg *config.Config, family device.Family, logger zerolog.Logger) (*device.Driver, error) {
	sim := simulator.New(family, 1)
	for ch, volts := range map[int]float64{
		cfg.Channels.Supply:          5.0,
		cfg.Channels.Temperature:     1.2,
		cfg.Channels.DissolvedOxygen: 1.9,
		cfg.Channels.PH:              1.2,
	} {
		if ch > 0 {
			sim.SetVoltage(ch, volts)
		}
	}
	opts := append(driverOptions(cfg, logger), device.WithSettleInterval(0))
	return device.Open(sim, family, opts...)
}

func buildQuantities(cfg *config.Config) ([]monitor.Quantity, error) {
	var out []monitor.Quantity

	if ch := cfg.Channels.Temperature; ch > 0 {
		t := sensor.NewTemperature()
		if err := t.SetDividerResistance(cfg.Temperature.Divider); err != nil {
			return nil, err
		}
		if err := t.SetLoadResistance(cfg.Temperature.Load); err != nil {
			return nil, err
		}
		if strings.EqualFold(cfg.Temperature.Unit, "F") {
			t.SetUnit(sensor.Fahrenheit)
		}
		out = append(out, monitor.Quantity{Name: "temperature", Label: "Temperature", Channel: ch, Sensor: t})
	}
	if ch := cfg.Channels.DissolvedOxygen; ch > 0 {
		do := sensor.NewDissolvedOxygen()
		if cfg.DissolvedOxygen.Unit == sensor.DOUnitPercent {
			do.SwitchUnit()
		}
		out = append(out, monitor.Quantity{Name: "dissolved_oxygen", Label: "Dissolved oxygen", Channel: ch, Sensor: do})
	}
	if ch := cfg.Channels.PH; ch > 0 {
		out = append(out, monitor.Quantity{Name: "ph", Label: "pH", Channel: ch, Sensor: sensor.NewPH()})
	}
	return out, nil
}

// channelsRead is the highest configured channel, so one read covers
// every probe.
func channelsRead(cfg *config.Config, family device.Family) int {
	n := 0
	for _, ch := range []int{cfg.Channels.Supply, cfg.Channels.Temperature, cfg.Channels.DissolvedOxygen, cfg.Channels.PH} {
		if ch > n {
			n = ch
		}
	}
	if n == 0 {
		n = family.Channels
	}
	return n
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("listen", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server stopped")
	}
}
