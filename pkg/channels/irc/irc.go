package irc

import (
	"context"
	"fmt"
	"strings"

	"github.com/ergochat/irc-go/ircevent"
	"github.com/ergochat/irc-go/ircmsg"

	"github.com/aisopod/aisopod/pkg/bus"
	"github.com/aisopod/aisopod/pkg/channels"
	"github.com/aisopod/aisopod/pkg/config"
	"github.com/aisopod/aisopod/pkg/identity"
	"github.com/aisopod/aisopod/pkg/logger"
	"github.com/aisopod/aisopod/pkg/utils"
)

// IRCChannel bridges one IRC network connection into the bus. There is no
// media upload path on plain IRC, so SendMedia is not implemented.
type IRCChannel struct {
	*channels.BaseChannel
	config config.IRCConfig
	conn   *ircevent.Connection
	ctx    context.Context
	cancel context.CancelFunc
}

func NewIRCChannel(cfg config.IRCConfig, messageBus *bus.MessageBus) (*IRCChannel, error) {
	if cfg.Server == "" || cfg.Nick == "" {
		return nil, fmt.Errorf("irc server and nick are required")
	}

	conn := &ircevent.Connection{
		Server:   cfg.Server,
		Nick:     cfg.Nick,
		User:     cfg.Nick,
		RealName: cfg.Nick,
		Password: cfg.Password,
		UseTLS:   cfg.TLS,
	}

	base := channels.NewBaseChannel("irc", cfg, messageBus, cfg.AllowFrom,
		channels.WithMaxMessageLength(420),
		channels.WithGroupTrigger(cfg.GroupTrigger),
		channels.WithReasoningChannelID(cfg.ReasoningChannelID),
	)

	return &IRCChannel{
		BaseChannel: base,
		config:      cfg,
		conn:        conn,
	}, nil
}

func (c *IRCChannel) Start(ctx context.Context) error {
	logger.InfoC("irc", "Starting IRC channel")

	c.ctx, c.cancel = context.WithCancel(ctx)

	c.conn.AddCallback("PRIVMSG", c.handlePrivmsg)
	c.conn.AddCallback("001", func(ircmsg.Message) {
		for _, ch := range c.config.Channels {
			c.conn.Join(ch)
		}
	})

	if err := c.conn.Connect(); err != nil {
		return fmt.Errorf("irc connect: %w", err)
	}

	go func() {
		c.conn.Loop()
	}()

	go func() {
		<-c.ctx.Done()
		c.conn.Quit()
	}()

	c.SetRunning(true)
	logger.InfoC("irc", "IRC channel started")
	return nil
}

func (c *IRCChannel) Stop(ctx context.Context) error {
	logger.InfoC("irc", "Stopping IRC channel")
	if c.cancel != nil {
		c.cancel()
	}
	c.SetRunning(false)
	logger.InfoC("irc", "IRC channel stopped")
	return nil
}

func (c *IRCChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return channels.ErrNotRunning
	}

	for _, line := range c.splitLines(msg.Content) {
		c.conn.Privmsg(msg.ChatID, line)
	}
	return nil
}

// splitLines breaks content into IRC-safe lines, since PRIVMSG carries no
// newlines and servers cap line length.
func (c *IRCChannel) splitLines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func (c *IRCChannel) handlePrivmsg(e ircmsg.Message) {
	if len(e.Params) < 2 {
		return
	}
	target := e.Params[0]
	text := e.Params[1]

	nick := nickFromSource(e.Source)
	if nick == "" || nick == c.config.Nick {
		return
	}

	sender := bus.SenderInfo{
		Platform:    "irc",
		PlatformID:  nick,
		Username:    nick,
		CanonicalID: identity.BuildCanonicalID("irc", nick),
	}
	if !c.IsAllowedSender(sender) {
		logger.DebugCF("irc", "Message rejected by allowlist", map[string]any{"nick": nick})
		return
	}

	isChannel := strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&")
	chatID := target
	if !isChannel {
		// direct message: reply destination is the sender's nick, not our own
		chatID = nick
	}

	content := text
	if isChannel {
		respond, cleaned := c.ShouldRespondInGroup(strings.Contains(text, c.config.Nick), text)
		if !respond {
			return
		}
		content = cleaned
	}

	if strings.TrimSpace(content) == "" {
		return
	}

	peerKind := "channel"
	if !isChannel {
		peerKind = "direct"
	}
	peer := bus.Peer{Kind: peerKind, ID: chatID}

	metadata := map[string]string{
		"platform": "irc",
		"target":   target,
	}

	logger.DebugCF("irc", "Received message", map[string]any{
		"nick":    nick,
		"chat_id": chatID,
		"preview": utils.Truncate(content, 50),
	})

	c.HandleMessage(c.ctx, peer, "", nick, chatID, content, nil, metadata, sender)
}

// nickFromSource extracts the nick portion of an IRC "nick!user@host" prefix.
func nickFromSource(source string) string {
	if idx := strings.Index(source, "!"); idx > 0 {
		return source[:idx]
	}
	return source
}
