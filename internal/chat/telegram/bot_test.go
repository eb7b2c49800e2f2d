package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"cmgdl/internal/components/telemetry/telemetrytest"
	"cmgdl/internal/conversation"
	"cmgdl/internal/scrapers/caimogu"
	"cmgdl/internal/scrapers/caimogu/caimogutest"
	"cmgdl/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type sentMessage struct {
	chatId  int64
	replyTo int
	text    string
}

type mockSender struct {
	messages []sentMessage
	err      error
}

func (m *mockSender) SendText(ctx context.Context, chatId int64, replyTo int, text string) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.messages = append(m.messages, sentMessage{chatId: chatId, replyTo: replyTo, text: text})
	return len(m.messages), nil
}

func (m *mockSender) texts() []string {
	var out []string
	for _, msg := range m.messages {
		out = append(out, msg.text)
	}
	return out
}

type fixture struct {
	bot    *Bot
	sender *mockSender
	store  *conversation.Store
	tel    *telemetrytest.Recorder
}

type clock struct{}

func (clock) Now() time.Time {
	return time.Now()
}

func (clock) Location() *time.Location {
	return time.UTC
}

func setup(t *testing.T) fixture {
	site := caimogutest.NewSite(t, &caimogutest.Post{
		Id:       100,
		AuthorId: 7,
		Attachments: []*caimogutest.Attachment{
			{Id: 1, Name: "a.zip", Status: 1, Pwd: "pw", Link: "https://oss.example.com/a.zip"},
		},
	})
	tel := &telemetrytest.Recorder{}
	client, err := caimogu.NewClient(caimogu.ClientOptions{
		BaseUrl:           site.URL(),
		Cookies:           caimogu.Cookies{"PHPSESSID": "session"},
		RequestsPerSecond: float64(rate.Inf),
	}, tel)
	require.NoError(t, err)
	svc, err := service.New(client, service.WithTelemetryAPI(tel), service.WithClock(clock{}))
	require.NoError(t, err)

	sender := &mockSender{}
	store := conversation.NewStore(clock{}, time.Minute)
	bot := NewBot(conversation.NewEngine(svc, tel), store, sender, tel)
	return fixture{bot: bot, sender: sender, store: store, tel: tel}
}

var messageId = 0

func message(chatType string, chatId, userId int64, text string) *tgbotapi.Message {
	messageId++
	return &tgbotapi.Message{
		MessageID: messageId,
		From:      &tgbotapi.User{ID: userId},
		Chat:      &tgbotapi.Chat{ID: chatId, Type: chatType},
		Text:      text,
	}
}

func command(chatType string, chatId, userId int64, text string) *tgbotapi.Message {
	msg := message(chatType, chatId, userId, text)
	length := len(text)
	for i, r := range text {
		if r == ' ' {
			length = i
			break
		}
	}
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	return msg
}

const postUrl = "https://www.caimogu.cc/post/100.html"

func TestCommandStartsConversation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	start := command("private", 1, 1, "/cmgdl")
	f.bot.HandleMessage(ctx, start)
	require.Equal(t, []sentMessage{{chatId: 1, replyTo: start.MessageID, text: conversation.PromptUrl}}, f.sender.messages)
	require.Equal(t, 1, f.store.Len())

	f.bot.HandleMessage(ctx, message("private", 1, 1, postUrl))
	require.Len(t, f.sender.messages, 3)
	require.Equal(t, conversation.PromptChoice, f.sender.messages[2].text)

	f.bot.HandleMessage(ctx, message("private", 1, 1, "1"))
	require.Len(t, f.sender.messages, 4)
	require.Equal(t, "附件a.zip(id=1)\n下载链接: https://oss.example.com/a.zip\n密码: pw", f.sender.messages[3].text)
	require.Equal(t, 0, f.store.Len())

	// no live conversation anymore
	f.bot.HandleMessage(ctx, message("private", 1, 1, "1"))
	require.Len(t, f.sender.messages, 4)
}

func TestCommandWithArgs(t *testing.T) {
	f := setup(t)

	f.bot.HandleMessage(context.Background(), command("group", -5, 1, "/cmgdl@cmgdl_bot "+postUrl+" 1"))
	require.Len(t, f.sender.messages, 1)
	require.Equal(t, int64(-5), f.sender.messages[0].chatId)
	require.Contains(t, f.sender.messages[0].text, "https://oss.example.com/a.zip")
	require.Equal(t, 0, f.store.Len())
}

func TestTextCommand(t *testing.T) {
	table := []struct {
		text    string
		handled bool
	}{
		{text: "踩蘑菇下载", handled: true},
		{text: "/踩蘑菇下载", handled: true},
		{text: " 踩蘑菇下载 " + postUrl, handled: true},
		{text: "踩蘑菇下载器", handled: false},
		{text: "下载", handled: false},
	}

	for _, row := range table {
		f := setup(t)
		f.bot.HandleMessage(context.Background(), message("supergroup", 2, 3, row.text))
		require.Equal(t, row.handled, len(f.sender.messages) > 0, row.text)
	}
}

func TestConversationsAreKeyedByChatAndUser(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.bot.HandleMessage(ctx, command("group", 10, 1, "/cmgdl"))
	f.bot.HandleMessage(ctx, command("group", 10, 2, "/cmgdl"))
	require.Equal(t, 2, f.store.Len())

	// same user in another chat has no conversation
	f.bot.HandleMessage(ctx, message("private", 1, 1, postUrl))
	require.Len(t, f.sender.messages, 2)

	f.bot.HandleMessage(ctx, message("group", 10, 2, "nonsense"))
	require.Equal(t, conversation.MsgInvalidUrl, f.sender.messages[2].text)
	require.Equal(t, 1, f.store.Len())

	_, ok := f.store.Get(conversation.Key{Chat: 10, User: 1})
	require.True(t, ok)
}

func TestUnsupportedChatsAndMessages(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.bot.HandleMessage(ctx, command("channel", 3, 1, "/cmgdl"))
	require.Empty(t, f.sender.messages)
	require.True(t, f.tel.Has("debug", "bot.ignored"))

	f.bot.HandleMessage(ctx, nil)
	f.bot.HandleMessage(ctx, &tgbotapi.Message{Text: "/cmgdl"})

	f.bot.HandleMessage(ctx, command("private", 1, 1, "/cmgdl"))
	sticker := message("private", 1, 1, "")
	sticker.Sticker = &tgbotapi.Sticker{FileID: "x"}
	f.bot.HandleMessage(ctx, sticker)
	require.Equal(t, []string{conversation.PromptUrl, conversation.MsgUnsupported}, f.sender.texts())
	require.Equal(t, 0, f.store.Len())
}

func TestOtherCommandsIgnored(t *testing.T) {
	f := setup(t)
	f.bot.HandleMessage(context.Background(), command("private", 1, 1, "/start"))
	require.Empty(t, f.sender.messages)
}

func TestSendFailureIsReported(t *testing.T) {
	f := setup(t)
	f.sender.err = errors.New("forbidden: bot was blocked by the user")

	f.bot.HandleMessage(context.Background(), command("private", 1, 1, "/cmgdl"))
	require.True(t, f.tel.Has("broken", "bot.send"))
}
