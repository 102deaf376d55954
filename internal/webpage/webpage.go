// Package webpage fetches a page and reduces it to readable text for the
// summarize verb.
package webpage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/minerofthesoal/ai-cli/internal/api"
	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/constants"
	"github.com/minerofthesoal/ai-cli/internal/logging"
)

const (
	// MaxBodySize caps how much of a page is read.
	MaxBodySize = 2 << 20
	// MaxTextSize caps the extracted text handed to a model.
	MaxTextSize = 50_000

	provider  = "web"
	truncated = "\n\n[...truncated...]"
)

var (
	multiNewline = regexp.MustCompile(`\n{3,}`)
	multiSpace   = regexp.MustCompile(`[ \t]{2,}`)
)

// Page is the readable content of a fetched URL.
type Page struct {
	URL       string
	Title     string
	Text      string
	Truncated bool
}

// IsURL reports whether s should be fetched rather than read from disk.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Fetch downloads url and extracts its text. Plain text and markdown are
// returned as-is.
func Fetch(ctx context.Context, client *http.Client, url string) (*Page, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Usagef("invalid URL %q: %v", url, err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf("%s/%s", constants.AppName, constants.Version))
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, api.TransportError(provider, "failed to fetch "+url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, api.StatusError(provider, resp.StatusCode, body)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, api.TransportError(provider, "failed to read "+url, err)
	}

	page := &Page{URL: url}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/plain", "text/markdown":
		page.Text = strings.TrimSpace(string(body))
	default:
		title, text, err := Extract(strings.NewReader(string(body)))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", url, err)
		}
		page.Title, page.Text = title, text
	}
	if page.Text == "" {
		return nil, apperr.NotFoundf("no readable text at %s", url)
	}
	if len(page.Text) > MaxTextSize {
		page.Text = page.Text[:MaxTextSize] + truncated
		page.Truncated = true
	}
	logging.Debug("fetched page", logging.Fields{"url": url, "chars": len(page.Text), "truncated": page.Truncated})
	return page, nil
}

// Extract parses HTML and returns its title and body text, dropping
// scripts, styles and page chrome.
func Extract(r io.Reader) (title, text string, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}
	var sb strings.Builder
	walk(doc, &sb, &title, 0)
	return strings.TrimSpace(title), clean(sb.String()), nil
}

func walk(n *html.Node, sb *strings.Builder, title *string, depth int) {
	if depth > 100 {
		return
	}
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			sb.WriteString(t)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "form":
			return
		case "title":
			if *title == "" && n.FirstChild != nil {
				*title = n.FirstChild.Data
			}
			return
		case "p", "div", "section", "article", "h1", "h2", "h3", "h4", "h5", "h6", "tr", "pre", "blockquote":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, sb, title, depth+1)
	}
}

func clean(s string) string {
	s = multiSpace.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
