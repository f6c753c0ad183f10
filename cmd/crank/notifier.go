package main

import (
	"fmt"
	"log/slog"

	"github.com/coldbell/raffle/crank/internal/config"
	"github.com/coldbell/raffle/crank/internal/logging"
	"github.com/coldbell/raffle/crank/internal/notify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
)

func newNotifier(cfg config.CrankConfig, logger *slog.Logger) (notify.Notifier, func(), error) {
	switch cfg.Notifier.Kind {
	case config.NotifierTelegram:
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			APIURL:   cfg.Notifier.Telegram.APIURL,
			BotToken: cfg.Notifier.Telegram.BotToken,
			ChatID:   cfg.Notifier.Telegram.ChatID,
			Timeout:  cfg.Notifier.Telegram.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return tg, func() {}, nil

	case config.NotifierKafka:
		m := kprom.NewMetrics(cfg.MetricsNamespace,
			kprom.Registerer(prometheus.DefaultRegisterer),
			kprom.Gatherer(prometheus.DefaultGatherer))
		kcl, err := kgo.NewClient(
			kgo.WithHooks(m),
			kgo.SeedBrokers(cfg.Notifier.Kafka.Brokers...),
			kgo.DefaultProduceTopic(cfg.Notifier.Kafka.Topic),
			kgo.ProducerBatchCompression(kgo.ZstdCompression()),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("create kafka client: %w", err)
		}
		logger.Info("kafka notifier configured",
			"brokers", cfg.Notifier.Kafka.Brokers,
			"topic", cfg.Notifier.Kafka.Topic,
			"key", cfg.Notifier.Kafka.Key,
		)
		return notify.NewKafka(kcl, cfg.Notifier.Kafka.Topic, cfg.Notifier.Kafka.Key), kcl.Close, nil

	case config.NotifierLog:
		return notify.NewLog(logging.Component(logger, "notify")), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown notifier kind %q", cfg.Notifier.Kind)
	}
}
