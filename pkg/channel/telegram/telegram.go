package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"actorbridge/pkg/channel"
	"actorbridge/pkg/config"
	"actorbridge/pkg/dispatch"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"
const messagePreviewLimit = 240
const typingRefreshInterval = 4 * time.Second

// botAPI is the subset of *telego.Bot the adapter needs to reply.
type botAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error
}

// Adapter submits Telegram text messages to an actor and posts each
// response back to the originating chat.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	log       *slog.Logger

	replies sync.WaitGroup
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log.With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in logs and gateway status.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and submits each accepted message.
func (a *Adapter) Run(ctx context.Context, sub channel.Submitter) error {
	if sub == nil {
		return errors.New("submitter is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started", "actor", channel.ResolveActor(sub, a.cfg.Actor))
	defer a.replies.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			a.handleUpdate(ctx, bot, sub, update)
		}
	}
}

// handleUpdate submits one update. The reply is sent when the actor's
// callback fires, on a goroutine of its own so the worker is not held up by
// Telegram latency.
func (a *Adapter) handleUpdate(ctx context.Context, bot botAPI, sub channel.Submitter, update telego.Update) {
	message := update.Message
	if message == nil {
		return
	}

	content := strings.TrimSpace(message.Text)
	if content == "" {
		// Only text content is routed to actors.
		return
	}
	if message.From == nil {
		a.log.Debug("Ignoring message without sender")
		return
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return
	}

	chatID := message.Chat.ID
	actorName := channel.ResolveActor(sub, a.cfg.Actor)
	a.log.Info("Received message", "chat_id", chatID, "sender_id", senderID, "update_id", update.UpdateID, "actor", actorName, "content", previewText(content))

	stopTyping := a.startTypingIndicator(ctx, bot, chatID)

	a.replies.Add(1)
	seq, err := sub.SendTo(actorName, content, dispatch.CallbackFunc(func(resp dispatch.Response) {
		stopTyping()
		go func() {
			defer a.replies.Done()
			a.reply(ctx, bot, chatID, replyText(resp))
		}()
	}))
	if err != nil {
		stopTyping()
		a.log.Error("Failed to submit inbound message", "chat_id", chatID, "error", err)
		go func() {
			defer a.replies.Done()
			a.reply(ctx, bot, chatID, err.Error())
		}()
		return
	}

	a.log.Debug("Submitted message", "chat_id", chatID, "actor", actorName, "seq", seq)
}

func (a *Adapter) reply(ctx context.Context, bot botAPI, chatID int64, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	a.log.Info("Sending message", "chat_id", chatID, "content", previewText(text))
	if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		a.log.Error("Failed to send telegram message", "chat_id", chatID, "error", err)
	}
}

// replyText prefers the response text and falls back to the error message.
func replyText(resp dispatch.Response) string {
	if resp.Err != nil {
		return resp.Err.Error()
	}
	return resp.Text
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// startTypingIndicator sends a typing action and refreshes it until the
// returned function is called. The returned function is safe to call twice.
func (a *Adapter) startTypingIndicator(ctx context.Context, bot botAPI, chatID int64) context.CancelFunc {
	typingCtx, cancel := context.WithCancel(ctx)

	sendTyping := func() {
		if err := bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	go func() {
		sendTyping()

		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()

	return cancel
}
