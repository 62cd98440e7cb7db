package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mdobak/go-xerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"

	"buzzhive/internal/database"
	"buzzhive/internal/dispatcher"
	"buzzhive/internal/ml"
	"buzzhive/internal/mqtt"
	"buzzhive/internal/radio"
	"buzzhive/internal/uplink"
	"buzzhive/pkg/config"
)

const healthService = "buzzhive.BaseStation"

func main() {
	writeRules := flag.String("write-rules", "", "write the default rule table to `path` and exit")
	flag.Parse()

	if *writeRules != "" {
		if err := ml.WriteRuleTable(*writeRules, ml.DefaultRuleTable()); err != nil {
			slog.Error("failed to write rule table", "error", xerrors.New(err))
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", xerrors.New(err))
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)

	if err := run(ctx, cfg, logger); err != nil {
		logger.ErrorContext(ctx, "base station halted", slog.Any("error", xerrors.New(err)))
		os.Exit(1)
	}
	logger.Info("base station stopped")
}

// station holds the process-wide resources so they can be shared and closed
// in one place.
type station struct {
	cfg    *config.Config
	logger *slog.Logger
	mqtt   *mqtt.Client
}

func (s *station) mqttClient() (*mqtt.Client, error) {
	if s.mqtt != nil {
		return s.mqtt, nil
	}
	c, err := mqtt.NewClient(mqtt.ClientConfig{
		Broker:   s.cfg.MQTTBroker,
		ClientID: s.cfg.MQTTClientID + "-base",
		Username: s.cfg.MQTTUsername,
		Password: s.cfg.MQTTPassword,
	}, s.logger)
	if err != nil {
		return nil, err
	}
	s.mqtt = c
	return c, nil
}

func (s *station) close() {
	if s.mqtt != nil {
		s.mqtt.Close()
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st := &station{cfg: cfg, logger: logger}
	defer st.close()

	plan := radio.ChannelPlan{
		FrequencyHz:     cfg.LoRaFrequency,
		SpreadingFactor: cfg.LoRaSpreadingFactor,
		BandwidthHz:     cfg.LoRaBandwidth,
		CodingRate:      cfg.LoRaCodingRate,
	}
	logger.Info("starting base station",
		"radio", cfg.RadioTransport,
		"channel", plan.String(),
		"uplink", cfg.UplinkKind,
		"health_addr", cfg.HealthAddr)

	engine, err := ml.Load(cfg.ModelRulesPath, cfg.ModelScalerPath)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}

	link, err := st.openRadio(plan)
	if err != nil {
		return fmt.Errorf("radio init: %w", err)
	}
	defer link.Close()

	sink, err := st.openUplink(ctx)
	if err != nil {
		return fmt.Errorf("uplink init: %w", err)
	}
	defer sink.Close()

	var opts []dispatcher.Option
	if cfg.HealthAddr != "" {
		hs, stopHealth, err := serveHealth(cfg.HealthAddr, logger)
		if err != nil {
			return err
		}
		defer stopHealth()
		opts = append(opts, dispatcher.WithConnectivityObserver(func(online bool) {
			status := healthgrpc.HealthCheckResponse_NOT_SERVING
			if online {
				status = healthgrpc.HealthCheckResponse_SERVING
			}
			hs.SetServingStatus("", status)
			hs.SetServingStatus(healthService, status)
		}))
	}

	d := dispatcher.New(link, engine, sink, dispatcher.Config{
		ConnectivityCheckInterval: cfg.ConnectivityCheckInterval,
		UplinkTimeout:             cfg.UplinkTimeout,
	}, logger, opts...)
	return d.Run(ctx)
}

func (s *station) openRadio(plan radio.ChannelPlan) (radio.Transceiver, error) {
	switch s.cfg.RadioTransport {
	case config.RadioSerial:
		link, err := radio.OpenSerialLink(radio.SerialConfig{
			Port:        s.cfg.RadioSerialPort,
			Baud:        s.cfg.RadioSerialBaud,
			ReadTimeout: 500 * time.Millisecond,
			RxBuffer:    s.cfg.RadioRxBuffer,
		}, s.logger)
		if err != nil {
			return nil, err
		}
		return link, nil
	default:
		c, err := s.mqttClient()
		if err != nil {
			return nil, err
		}
		link, err := radio.NewMQTTLink(c.GetNativeClient(), radio.MQTTLinkConfig{
			Plan:        plan,
			TopicPrefix: s.cfg.RadioMQTTTopicPrefix,
			RxBuffer:    s.cfg.RadioRxBuffer,
			Listen:      true,
		}, s.logger)
		if err != nil {
			return nil, err
		}
		return link, nil
	}
}

func (s *station) openUplink(ctx context.Context) (uplink.Sink, error) {
	switch s.cfg.UplinkKind {
	case config.UplinkMQTT:
		c, err := s.mqttClient()
		if err != nil {
			return nil, err
		}
		return uplink.NewMQTTSink(mqtt.NewPublisher(c.GetNativeClient()), s.cfg.UplinkMQTTTopic), nil
	case config.UplinkClickHouse:
		db, err := database.NewClickHouseDB(ctx, database.ClickHouseConfig{
			Addr:     s.cfg.ClickHouseAddr,
			Database: s.cfg.ClickHouseDB,
			Username: s.cfg.ClickHouseUser,
			Password: s.cfg.ClickHousePass,
		}, s.logger)
		if err != nil {
			return nil, err
		}
		if err := db.InitSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return uplink.NewStoreSink(db), nil
	case config.UplinkInfluxDB:
		return uplink.NewInfluxSink(uplink.InfluxConfig{
			URL:    s.cfg.InfluxURL,
			Token:  s.cfg.InfluxToken,
			Org:    s.cfg.InfluxOrg,
			Bucket: s.cfg.InfluxBucket,
		}), nil
	case config.UplinkSQLite:
		db, err := database.NewSQLiteDB(s.cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return uplink.NewStoreSink(db), nil
	default:
		sink, err := uplink.NewHTTPSink(uplink.HTTPConfig{
			Endpoint: s.cfg.APIEndpoint,
			APIKey:   s.cfg.APIKey,
			Timeout:  s.cfg.UplinkTimeout,
		})
		if err != nil {
			return nil, err
		}
		return sink, nil
	}
}

// serveHealth starts a gRPC health server reporting NOT_SERVING until the
// first connectivity check.
func serveHealth(addr string, logger *slog.Logger) (*health.Server, func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("health listener: %w", err)
	}

	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthgrpc.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(healthService, healthgrpc.HealthCheckResponse_NOT_SERVING)

	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("health server terminated", "error", err)
		}
	}()
	logger.Info("health server listening", "addr", lis.Addr().String())

	stop := func() {
		hs.Shutdown()
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			logger.Warn("health server graceful stop timed out, forcing stop")
			grpcServer.Stop()
		}
	}
	return hs, stop, nil
}

func newLogger(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
