package discord

import (
	"github.com/aisopod/aisopod/pkg/bus"
	"github.com/aisopod/aisopod/pkg/channels"
	"github.com/aisopod/aisopod/pkg/config"
)

func init() {
	channels.RegisterFactory("discord", func(cfg *config.Config, b *bus.MessageBus) (channels.Channel, error) {
		return NewDiscordChannel(cfg.Channels.Discord, b)
	})
}
