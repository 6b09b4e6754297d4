// Package gochannel provides the in-process event channel, used when no broker is configured.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// DefaultBuffer is the per-subscriber buffer used when none is configured.
const DefaultBuffer = 1000

// CreateChannel returns one GoChannel acting as both publisher and subscriber.
// Events published with no subscriber are dropped and publishing never waits for a handler.
func CreateChannel(logger watermill.LoggerAdapter, buffer int) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: int64(buffer)}, logger)

	return pubSub, pubSub, nil
}

// CreateTestChannel keeps events published before a subscriber attaches and
// blocks each publish until it is acked.
func CreateTestChannel(logger watermill.LoggerAdapter) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            10,
			Persistent:                     true,
			BlockPublishUntilSubscriberAck: true,
		},
		logger,
	)

	return pubSub, pubSub, nil
}
