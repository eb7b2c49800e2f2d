package caimogu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	report_attachment_check_status  = "attachment.check-status"
	report_attachment_download_link = "attachment.download-link"
)

// Status is the access status the site reports for an attachment. Values
// other than the named ones are kept as is.
type Status int

const (
	StatusUnknown    Status = 0
	StatusUnfollowed Status = -3
	StatusUnpaid     Status = -2
	StatusOk         Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusUnfollowed:
		return "unfollowed"
	case StatusUnpaid:
		return "unpaid"
	case StatusOk:
		return "ok"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Condition is the result of CheckStatus, it tells the caller which
// remediation (if any) is needed before the attachment can be downloaded.
type Condition int

const (
	ConditionReady Condition = iota
	ConditionNeedsFollow
	ConditionNeedsPayment
)

func (c Condition) String() string {
	switch c {
	case ConditionReady:
		return "ready"
	case ConditionNeedsFollow:
		return "needs-follow"
	case ConditionNeedsPayment:
		return "needs-payment"
	}
	return fmt.Sprintf("condition(%d)", int(c))
}

// Message is the human readable explanation of the condition.
func (c Condition) Message() string {
	switch c {
	case ConditionNeedsFollow:
		return "需要关注作者后才能下载"
	case ConditionNeedsPayment:
		return "需要支付影响力后才能下载"
	}
	return ""
}

type grant struct {
	pwd            string
	downloadNumber int64
}

// Attachment is a downloadable file on a post. Id, Name and Point come from
// the post page, the rest is filled in by CheckStatus.
type Attachment struct {
	Id   int64
	Name string
	// price in site currency, 0 means free
	Point int64

	post   *Post
	status Status
	// present only once a status query returned ok
	grant optional[grant]
}

// Post returns the post the attachment belongs to.
func (a *Attachment) Post() *Post {
	return a.post
}

func (a *Attachment) Free() bool {
	return a.Point == 0
}

// Status returns the last status observed, StatusUnknown before the first check.
func (a *Attachment) Status() Status {
	return a.status
}

// Password returns the extraction password, ok is false until a status check
// has returned ok.
func (a *Attachment) Password() (pwd string, ok bool) {
	g, ok := a.grant.get()
	return g.pwd, ok
}

// DownloadNumber returns the download counter, ok is false until a status check
// has returned ok.
func (a *Attachment) DownloadNumber() (n int64, ok bool) {
	g, ok := a.grant.get()
	return g.downloadNumber, ok
}

// flexInt is download_number, which the site sends either as a json number or
// as a decimal string. Both become an int64, anything else is an error.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		err := json.Unmarshal(data, &s)
		if err != nil {
			return err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return fmt.Errorf("download_number: %w", err)
		}
		*f = flexInt(n)
		return nil
	}

	var n int64
	err := json.Unmarshal(data, &n)
	if err != nil {
		return fmt.Errorf("download_number: %w", err)
	}
	*f = flexInt(n)
	return nil
}

type statusResponse struct {
	Status *int `json:"status"`
	// only decoded when status is ok, the site sends other shapes otherwise
	Data json.RawMessage `json:"data"`
}

type statusData struct {
	Pwd            *string  `json:"pwd"`
	DownloadNumber *flexInt `json:"download_number"`
}

func (a *Attachment) queryStatus(ctx context.Context) error {
	endpoint := fmt.Sprintf("/post/attachment/%d", a.Id)
	res, err := a.post.client.NewSession(WithoutRedirects()).R(ctx).Get(endpoint)
	if err != nil {
		a.post.client.tel.ReportBroken(report_attachment_check_status, fmt.Errorf("fetch: %w", err), endpoint)
		return fmt.Errorf("%w: attachment %d status: %w", ErrFetch, a.Id, err)
	}

	badResponse := func(reason error) error {
		err := fmt.Errorf("%w: attachment %d status (http %d): %w", ErrBadResponse, a.Id, res.StatusCode(), reason)
		a.post.client.tel.ReportBroken(report_attachment_check_status, err, res.String())
		return err
	}

	var body statusResponse
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		return badResponse(err)
	}
	if body.Status == nil {
		return badResponse(fmt.Errorf("missing status"))
	}

	status := Status(*body.Status)
	if status != StatusOk {
		a.status = status
		return nil
	}

	var data statusData
	if len(body.Data) == 0 {
		return badResponse(fmt.Errorf("missing data"))
	}
	err = json.Unmarshal(body.Data, &data)
	if err != nil {
		return badResponse(err)
	}
	if data.Pwd == nil {
		return badResponse(fmt.Errorf("missing data.pwd"))
	}
	if data.DownloadNumber == nil {
		return badResponse(fmt.Errorf("missing data.download_number"))
	}

	a.status = status
	a.grant = some(grant{
		pwd:            *data.Pwd,
		downloadNumber: int64(*data.DownloadNumber),
	})
	return nil
}

// CheckStatus queries the access status of the attachment unless it is already
// known to be downloadable, and returns what needs to happen before a download
// link can be resolved. Unrecognized status codes are returned as *StatusError.
func (a *Attachment) CheckStatus(ctx context.Context) (Condition, error) {
	if _, ok := a.grant.get(); !ok {
		err := a.queryStatus(ctx)
		if err != nil {
			return 0, err
		}
	}

	switch a.status {
	case StatusOk:
		return ConditionReady, nil
	case StatusUnfollowed:
		return ConditionNeedsFollow, nil
	case StatusUnpaid:
		return ConditionNeedsPayment, nil
	}
	return 0, &StatusError{AttachmentId: a.Id, Code: a.status}
}

// DownloadLink resolves the time limited download link of the attachment.
// It does not remediate, unless the attachment is already downloadable it
// returns "". The empty string is never a valid link.
func (a *Attachment) DownloadLink(ctx context.Context) string {
	tel := a.post.client.tel

	condition, err := a.CheckStatus(ctx)
	if err != nil {
		tel.ReportWarning(report_attachment_download_link, a.Id, err)
		return ""
	}
	if condition != ConditionReady {
		tel.ReportDebug(report_attachment_download_link, a.Id, condition.String())
		return ""
	}

	endpoint := fmt.Sprintf("/post/attachment/%d.html", a.Id)
	res, err := a.post.client.NewSession(WithoutRedirects(), WithoutAjax()).R(ctx).Get(endpoint)
	if err != nil {
		tel.ReportBroken(report_attachment_download_link, fmt.Errorf("fetch: %w", err), endpoint)
		return ""
	}
	// download links only ever come back as the target of a redirect
	if res.StatusCode() != http.StatusFound {
		tel.ReportBroken(
			report_attachment_download_link,
			fmt.Errorf("expected http 302, got %d", res.StatusCode()),
			endpoint,
			res.String(),
		)
		return ""
	}

	location := res.Header().Get("Location")
	if location == "" {
		tel.ReportBroken(
			report_attachment_download_link,
			fmt.Errorf("redirect without location"),
			endpoint,
		)
	}
	return location
}
