package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mdobak/go-xerrors"

	"buzzhive/internal/audio"
	"buzzhive/internal/dutycycle"
	"buzzhive/internal/features"
	"buzzhive/internal/ml"
	"buzzhive/internal/mqtt"
	"buzzhive/internal/radio"
	"buzzhive/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", xerrors.New(err))
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)

	if err := run(ctx, cfg, logger); err != nil {
		logger.ErrorContext(ctx, "hive sensor halted", slog.Any("error", xerrors.New(err)))
		os.Exit(1)
	}
	logger.Info("hive sensor stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	plan := channelPlan(cfg)
	logger.Info("starting hive sensor",
		"hive_id", cfg.HiveID,
		"mode", cfg.SensorMode,
		"radio", cfg.RadioTransport,
		"channel", plan.String(),
		"audio_source", cfg.AudioSource)

	extractor, err := features.NewExtractor(features.DefaultConfig(cfg.AudioSampleRate))
	if err != nil {
		return err
	}

	var opts []dutycycle.Option
	if cfg.SensorMode == config.SensorModeClassify {
		engine, err := ml.Load(cfg.ModelRulesPath, cfg.ModelScalerPath)
		if err != nil {
			return fmt.Errorf("load model: %w", err)
		}
		opts = append(opts, dutycycle.WithClassifier(engine))
	}

	openLink, closeTransport, err := linkOpener(cfg, plan, logger)
	if err != nil {
		return fmt.Errorf("%w: %w", dutycycle.ErrPeripheralInit, err)
	}
	defer closeTransport()

	periph := dutycycle.Peripherals{
		Environment: dutycycle.StaticEnvironment{Reading: dutycycle.Reading{
			TemperatureC: cfg.SimTemperature,
			HumidityPct:  cfg.SimHumidity,
			BatteryMv:    uint16(cfg.SimBatteryMv),
		}},
		Microphone: &dutycycle.SourceMicrophone{Source: audioSource(cfg)},
		Radio:      &dutycycle.LinkRadio{Open: openLink},
	}

	sched, err := dutycycle.New(dutycycle.Config{
		HiveID:            uint8(cfg.HiveID),
		Mode:              dutycycle.Mode(cfg.SensorMode),
		RecordingDuration: cfg.RecordingDuration(),
		RecordingGrace:    cfg.RecordingGrace,
		Cooldown:          cfg.RecordingCooldown,
		Policy: dutycycle.Policy{
			WinterThreshold: cfg.WinterTempThreshold,
			ActiveInterval:  cfg.ActiveInterval,
			WinterInterval:  cfg.WinterInterval,
			AlertInterval:   cfg.AlertInterval,
		},
	}, periph, extractor, logger, opts...)
	if err != nil {
		return err
	}
	return sched.Run(ctx)
}

func channelPlan(cfg *config.Config) radio.ChannelPlan {
	return radio.ChannelPlan{
		FrequencyHz:     cfg.LoRaFrequency,
		SpreadingFactor: cfg.LoRaSpreadingFactor,
		BandwidthHz:     cfg.LoRaBandwidth,
		CodingRate:      cfg.LoRaCodingRate,
	}
}

func audioSource(cfg *config.Config) audio.Source {
	var src audio.Source
	switch cfg.AudioSource {
	case config.AudioSilence:
		src = audio.Silence{}
	case config.AudioFile:
		src = audio.File{Path: cfg.AudioFile}
	default:
		src = audio.NewTone(cfg.AudioSampleRate)
	}
	if cfg.AudioRealtime {
		return audio.Realtime{Source: src, SampleRate: cfg.AudioSampleRate}
	}
	return src
}

// linkOpener returns a function that brings up the radio on each wake. The
// MQTT broker connection outlives the cycles; the link on top of it does not.
func linkOpener(cfg *config.Config, plan radio.ChannelPlan, logger *slog.Logger) (func(context.Context) (radio.Transceiver, error), func(), error) {
	switch cfg.RadioTransport {
	case config.RadioSerial:
		open := func(context.Context) (radio.Transceiver, error) {
			link, err := radio.OpenSerialLink(radio.SerialConfig{
				Port:        cfg.RadioSerialPort,
				Baud:        cfg.RadioSerialBaud,
				ReadTimeout: 500 * time.Millisecond,
				RxBuffer:    cfg.RadioRxBuffer,
			}, logger)
			if err != nil {
				return nil, err
			}
			return link, nil
		}
		return open, func() {}, nil
	default:
		client, err := mqtt.NewClient(mqtt.ClientConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: fmt.Sprintf("%s-hive-%d", cfg.MQTTClientID, cfg.HiveID),
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		open := func(context.Context) (radio.Transceiver, error) {
			link, err := radio.NewMQTTLink(client.GetNativeClient(), radio.MQTTLinkConfig{
				Plan:        plan,
				TopicPrefix: cfg.RadioMQTTTopicPrefix,
			}, logger)
			if err != nil {
				return nil, err
			}
			return link, nil
		}
		return open, client.Close, nil
	}
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
