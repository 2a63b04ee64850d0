package irc

import (
	"github.com/aisopod/aisopod/pkg/bus"
	"github.com/aisopod/aisopod/pkg/channels"
	"github.com/aisopod/aisopod/pkg/config"
)

func init() {
	channels.RegisterFactory("irc", func(cfg *config.Config, messageBus *bus.MessageBus) (channels.Channel, error) {
		return NewIRCChannel(cfg.Channels.IRC, messageBus)
	})
}
