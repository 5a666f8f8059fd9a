package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	fetchMaxChars  = 50000
	fetchTimeout   = 30 * time.Second
	fetchUserAgent = "Mozilla/5.0 (compatible; micro-agent/1.0)"
)

var htmlTagRe = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</\w+>|<[^>]+>`)
var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// WebFetchTool fetches a URL and returns its text content. Private and
// loopback addresses are rejected to block SSRF.
type WebFetchTool struct {
	client *http.Client
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		client: &http.Client{
			Timeout: fetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects")
				}
				return validateFetchURL(req.URL)
			},
		},
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }
func (t *WebFetchTool) Description() string {
	return "Fetch a URL and return its text content (HTML is stripped to plain text)"
}
func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rawURL := stringArg(args, "url")
	if rawURL == "" {
		rawURL = stringArg(args, "input")
	}
	if rawURL == "" {
		return ErrorResult("url is required")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid url: %v", err))
	}
	if err := validateFetchURL(u); err != nil {
		return ErrorResult(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("create request: %v", err))
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch failed: %v", err)).WithError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ErrorResult(fmt.Sprintf("HTTP %d from %s", resp.StatusCode, u.Host))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return ErrorResult(fmt.Sprintf("read body: %v", err)).WithError(err)
	}

	content := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		content = stripHTML(content)
	}
	if len(content) > fetchMaxChars {
		content = content[:fetchMaxChars] + "\n... (truncated)"
	}
	return SilentResult(content)
}

func validateFetchURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	host := u.Hostname()
	if host == "localhost" || strings.HasSuffix(host, ".local") {
		return fmt.Errorf("refusing to fetch local address")
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("refusing to fetch private address")
		}
	}
	return nil
}

func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(blankLinesRe.ReplaceAllString(s, "\n\n"))
}
