package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender sends messages to a chat.
//
// note: fault injection point
type Sender interface {
	// SendText sends a plain text message, `replyTo` is the id of the message
	// it answers or 0.
	SendText(ctx context.Context, chatId int64, replyTo int, text string) (int, error)
}

// APISender implements Sender with the telegram bot api.
type APISender struct {
	api *tgbotapi.BotAPI
}

func NewAPISender(api *tgbotapi.BotAPI) APISender {
	return APISender{api: api}
}

func (s APISender) SendText(ctx context.Context, chatId int64, replyTo int, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatId, text)
	msg.ReplyToMessageID = replyTo
	// download links are long, previews of them are useless
	msg.DisableWebPagePreview = true
	res, err := s.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return res.MessageID, nil
}
