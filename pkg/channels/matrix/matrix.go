package matrix

import (
	"context"
	"fmt"
	"os"
	"strings"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aisopod/aisopod/pkg/bus"
	"github.com/aisopod/aisopod/pkg/channels"
	"github.com/aisopod/aisopod/pkg/config"
	"github.com/aisopod/aisopod/pkg/identity"
	"github.com/aisopod/aisopod/pkg/logger"
	"github.com/aisopod/aisopod/pkg/utils"
)

// MatrixChannel bridges a single already-logged-in Matrix account (a
// homeserver URL, user ID and access token, no interactive login flow)
// into the bus via long-polling /sync.
type MatrixChannel struct {
	*channels.BaseChannel
	config config.MatrixConfig
	client *mautrix.Client
	ctx    context.Context
	cancel context.CancelFunc
}

func NewMatrixChannel(cfg config.MatrixConfig, messageBus *bus.MessageBus) (*MatrixChannel, error) {
	if cfg.HomeserverURL == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("matrix homeserver_url, user_id and access_token are required")
	}

	client, err := mautrix.NewClient(cfg.HomeserverURL, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix client init: %w", err)
	}

	base := channels.NewBaseChannel("matrix", cfg, messageBus, cfg.AllowFrom,
		channels.WithMaxMessageLength(32000),
		channels.WithGroupTrigger(cfg.GroupTrigger),
		channels.WithReasoningChannelID(cfg.ReasoningChannelID),
	)

	return &MatrixChannel{
		BaseChannel: base,
		config:      cfg,
		client:      client,
	}, nil
}

func (c *MatrixChannel) Start(ctx context.Context) error {
	logger.InfoC("matrix", "Starting Matrix channel")

	c.ctx, c.cancel = context.WithCancel(ctx)

	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, c.handleMessageEvent)

	go func() {
		if err := c.client.SyncWithContext(c.ctx); err != nil && c.ctx.Err() == nil {
			logger.ErrorCF("matrix", "sync loop exited", map[string]any{"error": err.Error()})
		}
	}()

	c.SetRunning(true)
	logger.InfoC("matrix", "Matrix channel started")
	return nil
}

func (c *MatrixChannel) Stop(ctx context.Context) error {
	logger.InfoC("matrix", "Stopping Matrix channel")
	c.client.StopSync()
	if c.cancel != nil {
		c.cancel()
	}
	c.SetRunning(false)
	logger.InfoC("matrix", "Matrix channel stopped")
	return nil
}

func (c *MatrixChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return channels.ErrNotRunning
	}

	_, err := c.client.SendText(ctx, id.RoomID(msg.ChatID), msg.Content)
	if err != nil {
		return fmt.Errorf("matrix send: %w", channels.ErrTemporary)
	}
	return nil
}

// SendMedia implements the channels.MediaSender interface.
func (c *MatrixChannel) SendMedia(ctx context.Context, msg bus.OutboundMediaMessage) error {
	if !c.IsRunning() {
		return channels.ErrNotRunning
	}

	store := c.GetMediaStore()
	if store == nil {
		return fmt.Errorf("no media store available: %w", channels.ErrSendFailed)
	}

	roomID := id.RoomID(msg.ChatID)
	for _, part := range msg.Parts {
		localPath, err := store.Resolve(part.Ref)
		if err != nil {
			logger.ErrorCF("matrix", "Failed to resolve media ref", map[string]any{
				"ref": part.Ref, "error": err.Error(),
			})
			continue
		}

		contentType := part.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		data, err := os.ReadFile(localPath)
		if err != nil {
			logger.ErrorCF("matrix", "Failed to read media for upload", map[string]any{
				"path": localPath, "error": err.Error(),
			})
			continue
		}

		uploaded, err := c.client.UploadBytes(ctx, data, contentType)
		if err != nil {
			return fmt.Errorf("matrix upload media: %w", channels.ErrTemporary)
		}

		msgType := event.MsgFile
		if strings.HasPrefix(contentType, "image/") {
			msgType = event.MsgImage
		} else if strings.HasPrefix(contentType, "video/") {
			msgType = event.MsgVideo
		} else if strings.HasPrefix(contentType, "audio/") {
			msgType = event.MsgAudio
		}

		filename := part.Filename
		if filename == "" {
			filename = "file"
		}

		_, err = c.client.SendMessageEvent(ctx, roomID, event.EventMessage, &event.MessageEventContent{
			MsgType: msgType,
			Body:    filename,
			URL:     uploaded.ContentURI.CUString(),
		})
		if err != nil {
			return fmt.Errorf("matrix send media: %w", channels.ErrTemporary)
		}

		if part.Caption != "" {
			_, _ = c.client.SendText(ctx, roomID, part.Caption)
		}
	}
	return nil
}

func (c *MatrixChannel) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender.String() == c.config.UserID {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	sender := bus.SenderInfo{
		Platform:    "matrix",
		PlatformID:  evt.Sender.String(),
		CanonicalID: identity.BuildCanonicalID("matrix", evt.Sender.String()),
	}
	if !c.IsAllowedSender(sender) {
		logger.DebugCF("matrix", "Message rejected by allowlist", map[string]any{
			"sender": evt.Sender.String(),
		})
		return
	}

	text := content.Body
	respond, cleaned := c.ShouldRespondInGroup(false, text)
	if !respond {
		return
	}

	chatID := evt.RoomID.String()
	peer := bus.Peer{Kind: "channel", ID: chatID}

	metadata := map[string]string{
		"event_id": evt.ID.String(),
		"room_id":  chatID,
		"platform": "matrix",
	}

	logger.DebugCF("matrix", "Received message", map[string]any{
		"sender_id": evt.Sender.String(),
		"chat_id":   chatID,
		"preview":   utils.Truncate(cleaned, 50),
	})

	c.HandleMessage(c.ctx, peer, evt.ID.String(), evt.Sender.String(), chatID, cleaned, nil, metadata, sender)
}
