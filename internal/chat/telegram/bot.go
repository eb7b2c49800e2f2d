// Package telegram runs conversations over a telegram bot.
package telegram

import (
	"context"
	"strings"

	"cmgdl/internal/components/assert"
	"cmgdl/internal/components/telemetry"
	"cmgdl/internal/conversation"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	// the command is registered with BotFather as /cmgdl
	Command = "cmgdl"
	// plain text alias, telegram commands cannot contain chinese
	TextCommand = "踩蘑菇下载"

	report_bot_send    = "bot.send"
	report_bot_ignored = "bot.ignored"
	report_bot_poll    = "bot.poll"
)

type Bot struct {
	engine conversation.Engine
	store  *conversation.Store
	sender Sender
	tel    telemetry.API
}

func NewBot(engine conversation.Engine, store *conversation.Store, sender Sender, tel telemetry.API) *Bot {
	assert.NotNil(store)
	assert.NotNil(sender)
	assert.NotNil(tel)
	return &Bot{
		engine: engine,
		store:  store,
		sender: sender,
		tel:    telemetry.NewScopedAPI("telegram", tel),
	}
}

// Run handles updates until ctx is cancelled or the update channel closes.
// Updates are handled one at a time.
func (b *Bot) Run(ctx context.Context, api *tgbotapi.BotAPI) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	cfg.AllowedUpdates = []string{"message"}

	updates := api.GetUpdatesChan(cfg)
	defer api.StopReceivingUpdates()

	b.tel.ReportDebug(report_bot_poll, "polling", api.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.HandleMessage(ctx, update.Message)
		}
	}
}

func supportedChat(chat *tgbotapi.Chat) bool {
	return chat.IsPrivate() || chat.IsGroup() || chat.IsSuperGroup()
}

// commandArgs returns the arguments of the download command if `msg` is one.
func commandArgs(msg *tgbotapi.Message) (string, bool) {
	if msg.IsCommand() {
		if msg.Command() != Command {
			return "", false
		}
		return msg.CommandArguments(), true
	}

	text := strings.TrimPrefix(strings.TrimSpace(msg.Text), "/")
	if !strings.HasPrefix(text, TextCommand) {
		return "", false
	}
	rest := strings.TrimPrefix(text, TextCommand)
	// 踩蘑菇下载xyz is not the command
	if rest != "" && !strings.HasPrefix(rest, " ") && !strings.HasPrefix(rest, "\n") {
		return "", false
	}
	return rest, true
}

func toMessage(msg *tgbotapi.Message) conversation.Message {
	if msg.Text == "" {
		return conversation.Message{Unsupported: true}
	}
	return conversation.Text(msg.Text)
}

// HandleMessage starts a conversation on the download command and feeds any
// other message from the same user in the same chat to their live
// conversation. Everything else is ignored.
func (b *Bot) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return
	}
	if !supportedChat(msg.Chat) {
		b.tel.ReportDebug(report_bot_ignored, msg.Chat.Type, msg.Chat.ID)
		return
	}

	key := conversation.Key{Chat: msg.Chat.ID, User: msg.From.ID}

	args, isCommand := commandArgs(msg)
	if isCommand {
		c, reply := b.engine.Start(ctx, args)
		if !reply.Done {
			b.store.Put(key, c)
		} else {
			b.store.Delete(key)
		}
		b.send(ctx, msg, reply)
		return
	}

	c, ok := b.store.Get(key)
	if !ok {
		return
	}
	reply := c.Handle(ctx, toMessage(msg))
	if reply.Done {
		b.store.Delete(key)
	}
	b.send(ctx, msg, reply)
}

func (b *Bot) send(ctx context.Context, to *tgbotapi.Message, reply conversation.Reply) {
	for _, text := range reply.Texts {
		_, err := b.sender.SendText(ctx, to.Chat.ID, to.MessageID, text)
		if err != nil {
			b.tel.ReportBroken(report_bot_send, err, to.Chat.ID)
			return
		}
	}
}
