package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowpatch/pkg/channels/gochannel"
	"github.com/dukex/flowpatch/pkg/channels/kafka"
	"github.com/dukex/flowpatch/pkg/config"
	"github.com/dukex/flowpatch/pkg/eventbus"
)

func NewEventBus(cfg config.EventBus, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch cfg.Provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, kafka.ParseBrokers(cfg.Brokers), "flowpatch")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger, cfg.Buffer)
		if err != nil {
			return nil, err
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", cfg.Provider)
	}
}
