package slack

import (
	"github.com/aisopod/aisopod/pkg/bus"
	"github.com/aisopod/aisopod/pkg/channels"
	"github.com/aisopod/aisopod/pkg/config"
)

func init() {
	channels.RegisterFactory("slack", func(cfg *config.Config, b *bus.MessageBus) (channels.Channel, error) {
		return NewSlackChannel(cfg.Channels.Slack, b)
	})
}
