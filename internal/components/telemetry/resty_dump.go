package telemetry

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

const report_resty_dump = "resty.dump"

func isDumpName(name string) bool {
	_, err := strconv.ParseUint(name, 10, 64)
	return err == nil
}

func formatHeaders(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := []string{}
	for _, k := range keys {
		for _, v := range headers[k] {
			lines = append(lines, fmt.Sprintf("%s: %s", k, v))
		}
	}
	return strings.Join(lines, "\n")
}

func formatRequestBody(req *http.Request) string {
	if req.GetBody == nil || req.Body == nil || req.Body == http.NoBody {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("failed to get request body: %s", err.Error())
	}
	// resty hands out a nil body for requests without one
	if body == nil {
		return ""
	}
	defer body.Close()
	readBody, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("failed to read request body: %s", err.Error())
	}
	return string(readBody)
}

// 1: request method
// 2: request url
// 3: request headers in ("Key: Value" format)
// 4: request body
// 5: response status
// 6: response location header (empty if none)
// 7: response headers in ("Key: Value" format)
// 8: response body
const messageTemplate = `---- REQUEST ----

%s %s

%s

%s

---- RESPONSE ----

%s %s

%s

%s`

func formatHttpMessage(res *resty.Response) string {
	reqHeaders := ""
	reqBody := ""
	if raw := res.Request.RawRequest; raw != nil {
		reqHeaders = formatHeaders(raw.Header)
		reqBody = formatRequestBody(raw)
	}

	return fmt.Sprintf(
		messageTemplate,
		res.Request.Method, res.Request.URL,
		reqHeaders,
		reqBody,
		strconv.Itoa(res.StatusCode()), res.Header().Get("location"),
		formatHeaders(res.Header()),
		res.String(),
	)
}

// DumpResty writes every request/response pair the clients complete into
// `dir` as a numbered plain text file. Files from a previous dump are removed
// first, a directory holding anything else is refused.
func DumpResty(dir string, tel API, clients ...*resty.Client) error {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !isDumpName(e.Name()) {
			return fmt.Errorf("dump dir %s contains %s, refusing to reuse it", dir, e.Name())
		}
	}
	for _, e := range entries {
		err = os.Remove(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
	}

	counter := &atomic.Uint64{}
	hook := func(_ *resty.Client, res *resty.Response) error {
		id := strconv.FormatUint(counter.Add(1), 10)
		err := os.WriteFile(filepath.Join(dir, id), []byte(formatHttpMessage(res)), 0o600)
		if err != nil {
			tel.ReportWarning(report_resty_dump, "failed to write message file", id, err)
		}
		return nil
	}
	for _, client := range clients {
		client.OnAfterResponse(hook)
	}
	return nil
}
