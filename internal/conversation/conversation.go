// Package conversation implements the chat exchange of the downloader
// independent of the chat platform: ask for a post link, list its
// attachments, ask which one to download and hand out the link.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"cmgdl/internal/components/assert"
	"cmgdl/internal/components/telemetry"
	"cmgdl/internal/scrapers/caimogu"
	"cmgdl/internal/service"

	"golang.org/x/text/width"
)

const (
	report_conversation_url      = "conversation.url"
	report_conversation_download = "conversation.download"
)

const (
	PromptUrl           = "请发送帖子链接"
	PromptChoice        = "发送序号下载，或发送q结束会话"
	MsgInvalidUrl       = "解析失败，无效的帖子链接"
	MsgNoAttachments    = "此贴未检测到附件"
	MsgListHeader       = "此贴包含以下附件："
	MsgBadChoice        = "序号选择错误，请重新选择（或输入q结束）"
	MsgChoiceOutOfRange = "序号指定的附件不存在，请重新选择（或输入q结束）"
	MsgNoLink           = "很可惜没有成功获取到下载链接呢，可能是插件内部错误"
	MsgUnsupported      = "不支持的消息类型"

	quit = "q"
	free = "免费"
)

// InvalidPostId is returned by ParsePostId when no post link was found.
const InvalidPostId int64 = -1

var postUrlRegex = regexp.MustCompile(`www.caimogu.cc/post/(\d+).html`)

// ParsePostId extracts the post id from the first post link in `text`.
func ParsePostId(text string) int64 {
	groups := postUrlRegex.FindStringSubmatch(text)
	if len(groups) < 2 {
		return InvalidPostId
	}
	id, err := strconv.ParseInt(groups[1], 10, 64)
	if err != nil {
		return InvalidPostId
	}
	return id
}

// Downloader is what a conversation needs from service.Service.
type Downloader interface {
	Resolve(postId int64) *caimogu.Post
	Download(ctx context.Context, post *caimogu.Post, attachment *caimogu.Attachment) (service.Download, error)
}

// Message is one message sent by the user.
type Message struct {
	Text string
	// set for messages without plain text (images, stickers, files)
	Unsupported bool
}

func Text(text string) Message {
	return Message{Text: text}
}

// Reply is what should be sent back to the user, in order. Once Done is set
// the conversation is over and every further message is ignored.
type Reply struct {
	Texts []string
	Done  bool
}

type stage int

const (
	stageAwaitUrl stage = iota
	stageAwaitChoice
	stageDone
)

type Engine struct {
	downloader Downloader
	tel        telemetry.API
}

func NewEngine(downloader Downloader, tel telemetry.API) Engine {
	assert.NotNil(downloader)
	assert.NotNil(tel)
	return Engine{
		downloader: downloader,
		tel:        telemetry.NewScopedAPI("conversation", tel),
	}
}

// Conversation is one exchange with one user. Messages are handled one at a
// time.
type Conversation struct {
	engine Engine

	mutex       sync.Mutex
	stage       stage
	post        *caimogu.Post
	attachments []*caimogu.Attachment
}

// Start begins a conversation with the arguments of the command that started
// it: an optional post link followed by an optional choice, separated by
// whitespace. Arguments given up front skip their prompts.
func (e Engine) Start(ctx context.Context, args string) (*Conversation, Reply) {
	c := &Conversation{engine: e}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	fields := strings.Fields(args)
	if len(fields) == 0 {
		return c, Reply{Texts: []string{PromptUrl}}
	}

	choiceGiven := len(fields) >= 2
	reply := c.handleUrl(ctx, fields[0], !choiceGiven)
	if reply.Done || !choiceGiven {
		return c, reply
	}
	return c, c.handleChoice(ctx, fields[1])
}

// Handle feeds the next user message into the conversation.
func (c *Conversation) Handle(ctx context.Context, msg Message) Reply {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.stage == stageDone {
		return Reply{Done: true}
	}
	if msg.Unsupported {
		return c.finish(MsgUnsupported)
	}

	switch c.stage {
	case stageAwaitUrl:
		return c.handleUrl(ctx, msg.Text, true)
	case stageAwaitChoice:
		return c.handleChoice(ctx, msg.Text)
	}
	return c.finish()
}

// Done returns true once the conversation is over.
func (c *Conversation) Done() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stage == stageDone
}

func (c *Conversation) finish(texts ...string) Reply {
	c.stage = stageDone
	return Reply{Texts: texts, Done: true}
}

func (c *Conversation) handleUrl(ctx context.Context, text string, prompt bool) Reply {
	postId := ParsePostId(text)
	if postId == InvalidPostId {
		return c.finish(MsgInvalidUrl)
	}

	post := c.engine.downloader.Resolve(postId)
	attachments, err := post.Attachments(ctx)
	if err != nil {
		c.engine.tel.ReportWarning(report_conversation_url, err, postId)
		return c.finish(UserMessage(err))
	}
	if len(attachments) == 0 {
		return c.finish(MsgNoAttachments)
	}

	c.post = post
	c.attachments = attachments
	c.stage = stageAwaitChoice

	if !prompt {
		return Reply{}
	}
	return Reply{Texts: []string{FormatAttachments(attachments), PromptChoice}}
}

// FormatAttachments renders the numbered attachment list.
func FormatAttachments(attachments []*caimogu.Attachment) string {
	var b strings.Builder
	b.WriteString(MsgListHeader)
	for i, a := range attachments {
		price := free
		if !a.Free() {
			price = strconv.FormatInt(a.Point, 10)
		}
		fmt.Fprintf(&b, "\n%d. %s 价格: %s", i+1, a.Name, price)
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (c *Conversation) handleChoice(ctx context.Context, text string) Reply {
	// full-width digits are what most chinese input methods produce
	choice := strings.TrimSpace(width.Narrow.String(text))
	if choice == quit {
		return c.finish()
	}
	if !isDigits(choice) {
		return Reply{Texts: []string{MsgBadChoice}}
	}

	index, err := strconv.Atoi(choice)
	if err != nil || index <= 0 || index > len(c.attachments) {
		return Reply{Texts: []string{MsgChoiceOutOfRange}}
	}

	attachment := c.attachments[index-1]
	download, err := c.engine.downloader.Download(ctx, c.post, attachment)
	if errors.Is(err, service.ErrNoLink) {
		return c.finish(MsgNoLink)
	}
	if err != nil {
		c.engine.tel.ReportWarning(report_conversation_download, err, c.post.Id, attachment.Id)
		return c.finish(UserMessage(err))
	}

	return c.finish(fmt.Sprintf(
		"附件%s(id=%d)\n下载链接: %s\n密码: %s",
		download.Name, download.AttachmentId, download.Link, download.Password,
	))
}

// UserMessage turns a download error into a message for the user.
func UserMessage(err error) string {
	var statusErr *caimogu.StatusError
	switch {
	case errors.Is(err, service.ErrNoLink):
		return MsgNoLink
	case errors.Is(err, service.ErrFollowFailed):
		return fmt.Sprintf("%s，自动关注失败: %v", caimogu.ConditionNeedsFollow.Message(), err)
	case errors.Is(err, service.ErrPurchaseFailed):
		return fmt.Sprintf("%s，自动购买失败: %v", caimogu.ConditionNeedsPayment.Message(), err)
	case errors.As(err, &statusErr):
		return fmt.Sprintf("附件状态异常: %d", int(statusErr.Code))
	case errors.Is(err, caimogu.ErrFetch):
		return fmt.Sprintf("请求踩蘑菇失败: %v", err)
	case errors.Is(err, caimogu.ErrPageParse):
		return fmt.Sprintf("解析帖子页面失败: %v", err)
	case errors.Is(err, caimogu.ErrBadResponse):
		return fmt.Sprintf("踩蘑菇返回了无法识别的数据: %v", err)
	}
	return err.Error()
}
