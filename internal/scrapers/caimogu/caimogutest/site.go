// Package caimogutest provides an in-memory fake of the caimogu.cc endpoints
// the scraper talks to.
package caimogutest

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
)

type Attachment struct {
	Id    int64
	Name  string
	Point int64
	// -3 unfollowed, -2 unpaid, 1 ok, anything else is returned as is
	Status int
	Pwd    string
	// sent as download_number, defaults to 0
	DownloadNumber any
	// target of the 302 on /post/attachment/{id}.html, an empty link makes the
	// endpoint respond with a plain page instead
	Link string
}

type Post struct {
	Id          int64
	AuthorId    int64
	Attachments []*Attachment
	// replaces the rendered page when non-empty
	Html string
}

type Request struct {
	Method string
	Path   string
	Form   url.Values
	Header http.Header
}

// Site serves posts and attachments the way caimogu.cc does.
//
// Following an author moves that author's unfollowed attachments to unpaid
// (when they cost something) or ok, buying moves an unpaid attachment to ok.
type Site struct {
	Server *httptest.Server

	mutex        sync.Mutex
	followStatus int
	buyStatus    int
	posts        map[int64]*Post
	attachments  map[int64]*Attachment
	overrides    map[string]http.HandlerFunc
	requests     []Request
}

// NewSite starts a fake site serving the given posts, it is closed when the
// test finishes.
func NewSite(t testing.TB, posts ...*Post) *Site {
	s := &Site{
		followStatus: 1,
		buyStatus:    1,
		posts:        map[int64]*Post{},
		attachments:  map[int64]*Attachment{},
		overrides:    map[string]http.HandlerFunc{},
	}
	for _, p := range posts {
		s.AddPost(p)
	}
	s.Server = httptest.NewServer(s)
	t.Cleanup(s.Server.Close)
	return s
}

func (s *Site) URL() string {
	return s.Server.URL
}

func (s *Site) AddPost(p *Post) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.posts[p.Id] = p
	for _, a := range p.Attachments {
		s.attachments[a.Id] = a
	}
}

// SetFollowStatus sets the status /user/act/follow replies with, only 1
// changes any state.
func (s *Site) SetFollowStatus(status int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.followStatus = status
}

// SetBuyStatus sets the status /post/act/buy_attachment replies with, only 1
// changes any state.
func (s *Site) SetBuyStatus(status int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.buyStatus = status
}

// Override replaces the handler for an exact path.
func (s *Site) Override(path string, handler http.HandlerFunc) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.overrides[path] = handler
}

func (s *Site) Requests() []Request {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Site) RequestsTo(path string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (s *Site) Count(path string) int {
	return len(s.RequestsTo(path))
}

// AttachmentStatus returns the current status of an attachment on the site.
func (s *Site) AttachmentStatus(id int64) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	a, ok := s.attachments[id]
	if !ok {
		return 0
	}
	return a.Status
}

func (s *Site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	s.mutex.Lock()
	s.requests = append(s.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Form:   r.PostForm,
		Header: r.Header.Clone(),
	})
	override, overridden := s.overrides[r.URL.Path]
	s.mutex.Unlock()

	if overridden {
		override(w, r)
		return
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && path == "/user/act/follow":
		s.follow(w, r)
	case r.Method == http.MethodPost && path == "/post/act/buy_attachment":
		s.buy(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/post/attachment/"):
		rest := strings.TrimPrefix(path, "/post/attachment/")
		if strings.HasSuffix(rest, ".html") {
			s.download(w, strings.TrimSuffix(rest, ".html"))
			return
		}
		s.status(w, rest)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/post/") && strings.HasSuffix(path, ".html"):
		s.page(w, strings.TrimSuffix(strings.TrimPrefix(path, "/post/"), ".html"))
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(value)
}

func (s *Site) page(w http.ResponseWriter, rawId string) {
	id, err := strconv.ParseInt(rawId, 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	s.mutex.Lock()
	post, ok := s.posts[id]
	var body string
	if ok {
		body = post.Html
		if body == "" {
			body = RenderPost(post)
		}
	}
	s.mutex.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("content-type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(body))
}

func (s *Site) lookupAttachment(rawId string) (*Attachment, bool) {
	id, err := strconv.ParseInt(rawId, 10, 64)
	if err != nil {
		return nil, false
	}
	a, ok := s.attachments[id]
	return a, ok
}

func (s *Site) status(w http.ResponseWriter, rawId string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	a, ok := s.lookupAttachment(rawId)
	if !ok {
		writeJSON(w, map[string]any{"status": 0, "info": "附件不存在", "data": []any{}})
		return
	}
	if a.Status != 1 {
		writeJSON(w, map[string]any{"status": a.Status, "info": "", "data": []any{}})
		return
	}

	downloadNumber := a.DownloadNumber
	if downloadNumber == nil {
		downloadNumber = 0
	}
	writeJSON(w, map[string]any{
		"status": 1,
		"info":   "",
		"data": map[string]any{
			"pwd":             a.Pwd,
			"download_number": downloadNumber,
		},
	})
}

func (s *Site) download(w http.ResponseWriter, rawId string) {
	s.mutex.Lock()
	a, ok := s.lookupAttachment(rawId)
	var link string
	if ok && a.Status == 1 {
		link = a.Link
	}
	s.mutex.Unlock()

	if link == "" {
		w.Header().Set("content-type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>请先登录</body></html>"))
		return
	}
	w.Header().Set("Location", link)
	w.WriteHeader(http.StatusFound)
}

func (s *Site) follow(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	authorId, err := strconv.ParseInt(r.PostForm.Get("id"), 10, 64)
	if err != nil {
		writeJSON(w, map[string]any{"status": 0, "info": "参数错误"})
		return
	}
	if s.followStatus == 1 {
		for _, p := range s.posts {
			if p.AuthorId != authorId {
				continue
			}
			for _, a := range p.Attachments {
				if a.Status != -3 {
					continue
				}
				a.Status = 1
				if a.Point > 0 {
					a.Status = -2
				}
			}
		}
	}
	writeJSON(w, map[string]any{"status": s.followStatus, "info": ""})
}

func (s *Site) buy(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	a, ok := s.lookupAttachment(r.PostForm.Get("id"))
	if !ok {
		writeJSON(w, map[string]any{"status": 0, "info": "附件不存在"})
		return
	}
	if s.buyStatus == 1 && a.Status == -2 {
		a.Status = 1
	}
	writeJSON(w, map[string]any{"status": s.buyStatus, "info": ""})
}

// RenderPost renders a post page with the same layout as caimogu.cc.
func RenderPost(p *Post) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><title>踩蘑菇</title></head><body>\n")
	fmt.Fprintf(&b, `<div class="author-container"><a href="/user/%d.html"><img src="/avatar.png"></a><span class="nickname">作者</span></div>`+"\n", p.AuthorId)
	b.WriteString(`<div class="attachment-container">` + "\n")
	for _, a := range p.Attachments {
		price := `<div class="point">免费</div>`
		if a.Point > 0 {
			price = fmt.Sprintf(`<div class="point">价格: <span>%d</span> 影响力</div>`, a.Point)
		}
		fmt.Fprintf(
			&b,
			`<div class="item"><div class="icon"><img src="/file.png"><div class="download" data-id="%d"></div></div>`+
				`<div class="info-container"><div class="info"><div class="name">%s</div>%s</div></div></div>`+"\n",
			a.Id, html.EscapeString(a.Name), price,
		)
	}
	b.WriteString("</div>\n</body></html>")
	return b.String()
}
