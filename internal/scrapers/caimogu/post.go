package caimogu

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"cmgdl/internal/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_post_page        = "post.page"
	report_post_author_id   = "post.author-id"
	report_post_attachments = "post.attachments"

	// price text of attachments that cost nothing
	freeMarker = "免费"
)

// Post is a forum post and the attachments on it. The page, author id and
// attachment list are fetched lazily, at most once per Post.
//
// A Post is owned by a single conversation and is not safe for concurrent use.
type Post struct {
	Id int64

	client      *Client
	page        optional[string]
	authorId    optional[int64]
	attachments optional[[]*Attachment]
}

// Post returns a handle to the post with the given id, nothing is fetched
// until one of its methods is called.
func (c *Client) Post(id int64) *Post {
	return &Post{Id: id, client: c}
}

// Page returns the raw html of the post page.
func (p *Post) Page(ctx context.Context) (string, error) {
	if page, ok := p.page.get(); ok {
		return page, nil
	}

	endpoint := fmt.Sprintf("/post/%d.html", p.Id)
	res, err := p.client.NewSession().R(ctx).Get(endpoint)
	if err != nil {
		p.client.tel.ReportBroken(report_post_page, fmt.Errorf("fetch: %w", err), endpoint)
		return "", fmt.Errorf("%w: post %d: %w", ErrFetch, p.Id, err)
	}
	if res.StatusCode() < 200 || res.StatusCode() >= 300 {
		err := fmt.Errorf("%w: post %d: status %s", ErrFetch, p.Id, res.Status())
		p.client.tel.ReportWarning(report_post_page, err, endpoint)
		return "", err
	}

	page := res.String()
	p.page = some(page)
	return page, nil
}

func (p *Post) document(ctx context.Context) (*goquery.Document, error) {
	page, err := p.Page(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("%w: post %d: %w", ErrPageParse, p.Id, err)
	}
	return doc, nil
}

// ex. https://www.caimogu.cc/user/16027.html
var authorIdRegex = regexp.MustCompile(`/user/(\d+)\.html`)

// AuthorId returns the id of the user who wrote the post.
func (p *Post) AuthorId(ctx context.Context) (int64, error) {
	if id, ok := p.authorId.get(); ok {
		return id, nil
	}

	doc, err := p.document(ctx)
	if err != nil {
		return 0, err
	}

	href := doc.Find("div.author-container > a[href]").First().AttrOr("href", "")
	groups := authorIdRegex.FindStringSubmatch(href)
	if len(groups) < 2 {
		err := fmt.Errorf("%w: post %d: could not find author link", ErrPageParse, p.Id)
		p.client.tel.ReportBroken(report_post_author_id, err)
		return 0, err
	}
	id, err := strconv.ParseInt(groups[1], 10, 64)
	if err != nil {
		err = fmt.Errorf("%w: post %d: author id: %w", ErrPageParse, p.Id, err)
		p.client.tel.ReportBroken(report_post_author_id, err)
		return 0, err
	}

	p.authorId = some(id)
	return id, nil
}

// KnownAuthorId returns the author id if an earlier AuthorId call resolved it,
// it never fetches or parses anything.
func (p *Post) KnownAuthorId() (int64, bool) {
	return p.authorId.get()
}

// Attachments returns the attachments of the post in page order. Either every
// attachment on the page parses or an error wrapping ErrPageParse is returned.
func (p *Post) Attachments(ctx context.Context) ([]*Attachment, error) {
	if attachments, ok := p.attachments.get(); ok {
		return attachments, nil
	}

	doc, err := p.document(ctx)
	if err != nil {
		return nil, err
	}

	items := doc.Find("div.attachment-container > div.item")
	attachments := make([]*Attachment, 0, items.Length())
	for i := range items.Nodes {
		attachment, err := p.parseAttachment(items.Eq(i))
		if err != nil {
			err = fmt.Errorf("%w: post %d: attachment %d: %w", ErrPageParse, p.Id, i+1, err)
			p.client.tel.ReportBroken(report_post_attachments, err)
			return nil, err
		}
		attachments = append(attachments, attachment)
	}

	p.client.tel.ReportDebug(report_post_attachments, p.Id, len(attachments))
	p.attachments = some(attachments)
	return attachments, nil
}

func (p *Post) parseAttachment(item *goquery.Selection) (*Attachment, error) {
	info := item.Find("div.info-container div.info")

	nameSel := info.Find("div.name").First()
	if nameSel.Length() == 0 {
		return nil, fmt.Errorf("missing name")
	}
	name := htmlutil.CleanText(htmlutil.GetText(nameSel.Get(0)))
	if name == "" {
		return nil, fmt.Errorf("empty name")
	}

	pointSel := info.Find("div.point").First()
	if pointSel.Length() == 0 {
		return nil, fmt.Errorf("missing price")
	}
	var point int64
	if !strings.Contains(pointSel.Text(), freeMarker) {
		pointText := strings.TrimSpace(pointSel.Find("span").First().Text())
		parsed, err := strconv.ParseInt(pointText, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("price: %w", err)
		}
		if parsed < 0 {
			return nil, fmt.Errorf("negative price %d", parsed)
		}
		point = parsed
	}

	idText, exists := item.Find("div.icon div.download").First().Attr("data-id")
	if !exists {
		return nil, fmt.Errorf("missing data-id")
	}
	id, err := strconv.ParseInt(strings.TrimSpace(idText), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("data-id: %w", err)
	}
	if id <= 0 {
		return nil, fmt.Errorf("non-positive data-id %d", id)
	}

	return &Attachment{
		Id:    id,
		Name:  name,
		Point: point,
		post:  p,
	}, nil
}
