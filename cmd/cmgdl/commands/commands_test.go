package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cmgdl/internal/components/telemetry/telemetrytest"
	"cmgdl/internal/conversation"
	"cmgdl/internal/db"
	"cmgdl/internal/scrapers/caimogu"
	"cmgdl/internal/scrapers/caimogu/caimogutest"
	"cmgdl/internal/service"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func writeFile(t *testing.T, path, content string) {
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	writeFile(t, path, `{
		// copied from the browser
		cookies: "PHPSESSID=abc; uid=1",
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, caimogu.DefaultBaseUrl, cfg.BaseUrl)
	require.Equal(t, 30, cfg.TimeoutSeconds)
	require.Equal(t, float64(2), cfg.RequestsPerSecond)
	require.Equal(t, "cmgdl.db", cfg.Database)
	require.Equal(t, 5*time.Minute, cfg.ConversationTimeout())

	opts, err := cfg.ClientOptions()
	require.NoError(t, err)
	require.Equal(t, caimogu.Cookies{"PHPSESSID": "abc", "uid": "1"}, opts.Cookies)
	require.Equal(t, 30*time.Second, opts.Timeout)
}

func TestLoadConfigLocalOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	writeFile(t, path, `{
		cookies: "PHPSESSID=abc",
		requests_per_second: 1,
		telegram: { token: "public" },
	}`)
	writeFile(t, filepath.Join(dir, "config.local.json5"), `{
		telegram: { token: "secret", debug: true },
		cloudflare_bypass: true,
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "PHPSESSID=abc", cfg.Cookies)
	require.Equal(t, float64(1), cfg.RequestsPerSecond)
	require.Equal(t, TelegramConfig{Token: "secret", Debug: true}, cfg.Telegram)
	require.True(t, cfg.CloudflareBypass)
}

func TestLoadConfigInvalid(t *testing.T) {
	table := []struct {
		name    string
		content string
	}{
		{name: "no cookies", content: `{ base_url: "https://www.caimogu.cc" }`},
		{name: "malformed cookies", content: `{ cookies: "PHPSESSID" }`},
		{name: "not json5", content: `cookies = "a=b"`},
	}

	for _, row := range table {
		t.Run(row.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json5")
			writeFile(t, path, row.content)
			_, err := LoadConfig(path)
			require.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "config.json5"))
	require.ErrorContains(t, err, "config.local.json5")
}

func TestConverse(t *testing.T) {
	site := caimogutest.NewSite(t, &caimogutest.Post{
		Id:       100,
		AuthorId: 7,
		Attachments: []*caimogutest.Attachment{
			{Id: 1, Name: "a.zip", Point: 2, Status: -3, Pwd: "pw", Link: "https://oss.example.com/a.zip"},
		},
	})
	tel := &telemetrytest.Recorder{}
	client, err := caimogu.NewClient(caimogu.ClientOptions{
		BaseUrl:           site.URL(),
		Cookies:           caimogu.Cookies{"PHPSESSID": "session"},
		RequestsPerSecond: float64(rate.Inf),
	}, tel)
	require.NoError(t, err)
	svc, err := service.New(client, service.WithTelemetryAPI(tel))
	require.NoError(t, err)
	engine := conversation.NewEngine(svc, tel)

	in := strings.NewReader("https://www.caimogu.cc/post/100.html\nfoo\n1\nignored\n")
	var out bytes.Buffer
	converse(context.Background(), engine, "", in, &out)

	require.Equal(t, strings.Join([]string{
		conversation.PromptUrl,
		"此贴包含以下附件：\n1. a.zip 价格: 2",
		conversation.PromptChoice,
		conversation.MsgBadChoice,
		"附件a.zip(id=1)\n下载链接: https://oss.example.com/a.zip\n密码: pw",
	}, "\n")+"\n", out.String())
}

func TestConverseEndsOnEOF(t *testing.T) {
	site := caimogutest.NewSite(t)
	client, err := caimogu.NewClient(caimogu.ClientOptions{
		BaseUrl:           site.URL(),
		Cookies:           caimogu.Cookies{"PHPSESSID": "session"},
		RequestsPerSecond: float64(rate.Inf),
	}, &telemetrytest.Recorder{})
	require.NoError(t, err)
	svc, err := service.New(client, service.WithTelemetryAPI(&telemetrytest.Recorder{}))
	require.NoError(t, err)

	var out bytes.Buffer
	converse(context.Background(), conversation.NewEngine(svc, &telemetrytest.Recorder{}), "", strings.NewReader(""), &out)
	require.Equal(t, conversation.PromptUrl+"\n", out.String())
}

func TestRenderHistory(t *testing.T) {
	events := []db.Event{
		{ID: "b", Kind: db.EVENT_DOWNLOAD, PostID: 100, AttachmentID: 1, AttachmentName: "a.zip", AuthorID: 7, Point: 2, CreatedAt: 1722513600},
		{ID: "a", Kind: db.EVENT_PURCHASE, PostID: 100, AttachmentID: 1, AttachmentName: "a.zip", AuthorID: 7, Point: 2, CreatedAt: 1722513599},
	}

	var out bytes.Buffer
	renderHistory(&out, events, 2, time.UTC)
	rendered := out.String()

	require.Contains(t, rendered, "2024-08-01 12:00:00")
	require.Contains(t, rendered, "download")
	require.Contains(t, rendered, "purchase")
	require.Contains(t, rendered, "a.zip")
	require.Equal(t, 2, strings.Count(rendered, "a.zip"))
}
