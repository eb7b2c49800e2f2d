package caimogu

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	report_attachment_pay     = "attachment.pay"
	report_post_follow_author = "post.follow-author"
)

type actionResponse struct {
	Status *int `json:"status"`
}

// postAction posts `id` to one of the site's action endpoints, the site replies
// with {"status": 1} on success.
func (c *Client) postAction(ctx context.Context, reportId, endpoint string, id int64) error {
	res, err := c.NewSession().R(ctx).
		SetFormData(map[string]string{
			"id": strconv.FormatInt(id, 10),
		}).
		Post(endpoint)
	if err != nil {
		c.tel.ReportBroken(reportId, fmt.Errorf("fetch: %w", err), endpoint, id)
		return fmt.Errorf("%w: %s: %w", ErrFetch, endpoint, err)
	}

	var body actionResponse
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		err = fmt.Errorf("%w: %s (http %d): %w", ErrBadResponse, endpoint, res.StatusCode(), err)
		c.tel.ReportBroken(reportId, err, res.String())
		return err
	}
	if body.Status == nil {
		err = fmt.Errorf("%w: %s (http %d): missing status", ErrBadResponse, endpoint, res.StatusCode())
		c.tel.ReportBroken(reportId, err, res.String())
		return err
	}
	if *body.Status != 1 {
		err = fmt.Errorf("%w: %s: status=%d", ErrActionRejected, endpoint, *body.Status)
		c.tel.ReportWarning(reportId, err, id)
		return err
	}

	return nil
}

// Pay buys the attachment with site currency. It does not update the cached
// status, call CheckStatus again to observe the result.
func (a *Attachment) Pay(ctx context.Context) error {
	err := a.post.client.postAction(ctx, report_attachment_pay, "/post/act/buy_attachment", a.Id)
	if err != nil {
		return fmt.Errorf("buy attachment %d: %w", a.Id, err)
	}
	return nil
}

// FollowAuthor follows the author of the post, the author id is resolved
// from the page first.
//
// Following an already followed author is assumed to be harmless.
func (p *Post) FollowAuthor(ctx context.Context) error {
	authorId, err := p.AuthorId(ctx)
	if err != nil {
		return fmt.Errorf("follow author of post %d: %w", p.Id, err)
	}
	err = p.client.postAction(ctx, report_post_follow_author, "/user/act/follow", authorId)
	if err != nil {
		return fmt.Errorf("follow user %d: %w", authorId, err)
	}
	return nil
}
