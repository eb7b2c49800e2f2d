package caimogu

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cmgdl/internal/components/telemetry/telemetrytest"
	"cmgdl/internal/scrapers/caimogu/caimogutest"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestClient(t testing.TB, site *caimogutest.Site) (*Client, *telemetrytest.Recorder) {
	tel := &telemetrytest.Recorder{}
	client, err := NewClient(ClientOptions{
		BaseUrl:           site.URL(),
		Cookies:           Cookies{"PHPSESSID": "session", "uid": "16027"},
		RequestsPerSecond: float64(rate.Inf),
	}, tel)
	require.NoError(t, err)
	return client, tel
}

func TestParseCookies(t *testing.T) {
	table := []struct {
		raw      string
		expected Cookies
		err      bool
	}{
		{raw: "a=1", expected: Cookies{"a": "1"}},
		{raw: " a = 1 ;b=2 ", expected: Cookies{"a": "1", "b": "2"}},
		{raw: "a=1; a=2", expected: Cookies{"a": "2"}},
		{raw: "a=1;;  ;b=", expected: Cookies{"a": "1", "b": ""}},
		{raw: "token=abc=def", expected: Cookies{"token": "abc=def"}},
		{raw: "", err: true},
		{raw: " ; ", err: true},
		{raw: "a=1; novalue", err: true},
		{raw: "=1", err: true},
	}

	for _, row := range table {
		cookies, err := ParseCookies(row.raw)
		if row.err {
			require.ErrorIs(t, err, ErrInvalidCookies, row.raw)
			continue
		}
		require.NoError(t, err, row.raw)
		require.Equal(t, row.expected, cookies, row.raw)
	}
}

func TestNewClientRequiresCookies(t *testing.T) {
	_, err := NewClient(ClientOptions{}, &telemetrytest.Recorder{})
	require.ErrorIs(t, err, ErrInvalidCookies)
}

func TestSessionHeaders(t *testing.T) {
	site := caimogutest.NewSite(t)
	client, _ := newTestClient(t, site)

	headers := client.NewSession().Headers()
	require.Equal(t, DefaultHeaders(), headers)

	headers["user-agent"] = "mutated"
	require.Equal(t, userAgent, client.NewSession().Headers()["user-agent"])

	noAjax := client.NewSession(WithoutAjax()).Headers()
	require.NotContains(t, noAjax, ajaxHeader)
	require.Equal(t, userAgent, noAjax["user-agent"])

	custom := client.NewSession(WithHeaders(map[string]string{"x-custom": "1"})).Headers()
	require.Equal(t, map[string]string{"x-custom": "1"}, custom)
}

func TestSessionRequest(t *testing.T) {
	site := caimogutest.NewSite(t)
	client, _ := newTestClient(t, site)
	ctx := context.Background()

	_, err := client.NewSession().R(ctx).Get("/anything")
	require.NoError(t, err)
	_, err = client.NewSession(WithoutAjax()).R(ctx).Get("/anything")
	require.NoError(t, err)

	requests := site.RequestsTo("/anything")
	require.Len(t, requests, 2)

	for _, req := range requests {
		cookie := req.Header.Get("Cookie")
		require.True(t, strings.Contains(cookie, "PHPSESSID=session"), cookie)
		require.True(t, strings.Contains(cookie, "uid=16027"), cookie)
		require.Equal(t, userAgent, req.Header.Get("User-Agent"))
	}
	require.Equal(t, ajaxValue, requests[0].Header.Get(ajaxHeader))
	require.Empty(t, requests[1].Header.Get(ajaxHeader))
}

func newDumpClient(t *testing.T, site *caimogutest.Site, dir string) (*Client, error) {
	return NewClient(ClientOptions{
		BaseUrl:           site.URL(),
		Cookies:           Cookies{"PHPSESSID": "session"},
		RequestsPerSecond: float64(rate.Inf),
		DumpDir:           dir,
	}, &telemetrytest.Recorder{})
}

func TestDumpDir(t *testing.T) {
	site := caimogutest.NewSite(t, &caimogutest.Post{
		Id:       1,
		AuthorId: 2,
		Attachments: []*caimogutest.Attachment{
			{Id: 3, Name: "a.zip", Status: 1, Pwd: "pw"},
		},
	})
	dir := filepath.Join(t.TempDir(), "dump")
	client, err := newDumpClient(t, site, dir)
	require.NoError(t, err)

	ctx := context.Background()
	// GET requests carry no body
	attachments, err := client.Post(1).Attachments(ctx)
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	_, err = client.NewSession(WithoutRedirects()).R(ctx).SetFormData(map[string]string{"id": "9"}).Post("/anything")
	require.NoError(t, err)

	first, err := os.ReadFile(filepath.Join(dir, "1"))
	require.NoError(t, err)
	require.Contains(t, string(first), "GET ")
	require.Contains(t, string(first), "/post/1.html")
	require.Contains(t, string(first), "PHPSESSID=session")

	second, err := os.ReadFile(filepath.Join(dir, "2"))
	require.NoError(t, err)
	require.Contains(t, string(second), "POST ")
	require.Contains(t, string(second), "id=9")

	// a previous dump is replaced
	_, err = newDumpClient(t, site, dir)
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestDumpDirRefusesForeignFiles(t *testing.T) {
	site := caimogutest.NewSite(t)
	dir := t.TempDir()
	keep := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(keep, []byte("keep me"), 0o644))

	_, err := newDumpClient(t, site, dir)
	require.ErrorContains(t, err, "notes.txt")

	content, err := os.ReadFile(keep)
	require.NoError(t, err)
	require.Equal(t, "keep me", string(content))
}

func TestCancelledRequestIsFetchError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	site := caimogutest.NewSite(t, &caimogutest.Post{Id: 1, AuthorId: 2})
	client, tel := newTestClient(t, site)

	_, err := client.Post(1).Page(ctx)
	require.ErrorIs(t, err, ErrFetch)
	require.True(t, errors.Is(err, context.Canceled), err)
	require.True(t, tel.Has("broken", "post.page"))
}
