package matrix

import (
	"github.com/aisopod/aisopod/pkg/bus"
	"github.com/aisopod/aisopod/pkg/channels"
	"github.com/aisopod/aisopod/pkg/config"
)

func init() {
	channels.RegisterFactory("matrix", func(cfg *config.Config, messageBus *bus.MessageBus) (channels.Channel, error) {
		return NewMatrixChannel(cfg.Channels.Matrix, messageBus)
	})
}
