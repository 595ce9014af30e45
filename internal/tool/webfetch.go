package tool

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// defaultCrawlMaxPages is the max_pages used when a crawl is requested
// (max_depth > 0) without an explicit value.
const defaultCrawlMaxPages = 10

// hardCrawlMaxPages bounds max_pages regardless of what the caller asks
// for: "Crawls always enforce max_pages," including against a caller
// trying to set it unreasonably high.
const hardCrawlMaxPages = 50

var linkHrefRe = regexp.MustCompile(`(?is)<a[^>]*href\s*=\s*["']([^"'#][^"']*)["']`)

// WebFetchTool fetches web pages and converts HTML to readable text. With
// max_depth > 0 it performs a bounded crawl instead of a single fetch.
func WebFetchTool() *ToolDef {
	return &ToolDef{
		Name:        "webfetch",
		Description: "Fetch a URL and return content as text. HTML converted to markdown. With max_depth > 0, crawls linked pages up to max_pages. 5MB/30s limits per page.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "The URL to fetch (or crawl from)",
				},
				"format": map[string]interface{}{
					"type":        "string",
					"description": "Output format: 'text' (default), 'markdown', 'html'",
					"enum":        []string{"text", "markdown", "html"},
				},
				"strategy": map[string]interface{}{
					"type":        "string",
					"description": "Crawl frontier order when max_depth > 0: 'best_first' (default, prioritizes links matching url_patterns), 'bfs', or 'dfs'",
					"enum":        []string{"best_first", "bfs", "dfs"},
				},
				"max_depth": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum link-following depth from the start URL. 0 (default) fetches only the start URL.",
				},
				"max_pages": map[string]interface{}{
					"type":        "integer",
					"description": fmt.Sprintf("Maximum number of pages to fetch during a crawl. Default %d when max_depth > 0, hard-capped at %d.", defaultCrawlMaxPages, hardCrawlMaxPages),
				},
				"allowed_domains": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "If non-empty, only follow links whose host matches (or is a subdomain of) one of these domains",
				},
				"blocked_domains": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Never follow links whose host matches (or is a subdomain of) one of these domains",
				},
				"url_patterns": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Glob patterns (e.g. '*/docs/*'). If non-empty, only follow links matching at least one; best_first also uses these to prioritize the frontier.",
				},
			},
			"required": []string{"url"},
		},
		Execute: func(ctx context.Context, tc *ToolContext, input map[string]interface{}) (*ToolResult, error) {
			startURL, _ := input["url"].(string)
			if startURL == "" {
				return &ToolResult{Output: "Error: url is required", IsError: true}, nil
			}
			startURL = normalizeURL(startURL)

			format := "text"
			if v, ok := input["format"].(string); ok && v != "" {
				format = v
			}

			opts, err := parseCrawlOptions(input)
			if err != nil {
				return &ToolResult{Output: fmt.Sprintf("Error: %v", err), IsError: true}, nil
			}

			if opts.maxDepth == 0 {
				page, err := fetchPage(ctx, startURL, format, false)
				if err != nil {
					return &ToolResult{Output: fmt.Sprintf("Error fetching URL: %v", err), IsError: true}, nil
				}
				header := fmt.Sprintf("URL: %s\nContent-Type: %s\nSize: %d bytes\n\n", startURL, page.contentType, page.rawSize)
				return &ToolResult{Output: header + page.content}, nil
			}

			return crawl(ctx, startURL, format, opts)
		},
	}
}

type crawlOptions struct {
	strategy       string
	maxDepth       int
	maxPages       int
	allowedDomains []string
	blockedDomains []string
	patterns       []glob.Glob
}

func parseCrawlOptions(input map[string]interface{}) (crawlOptions, error) {
	opts := crawlOptions{strategy: "best_first"}

	if v, ok := input["strategy"].(string); ok && v != "" {
		switch v {
		case "best_first", "bfs", "dfs":
			opts.strategy = v
		default:
			return opts, fmt.Errorf("unknown strategy %q", v)
		}
	}

	if v, ok := input["max_depth"].(float64); ok && v > 0 {
		opts.maxDepth = int(v)
	}

	opts.maxPages = defaultCrawlMaxPages
	if v, ok := input["max_pages"].(float64); ok && v > 0 {
		opts.maxPages = int(v)
	}
	if opts.maxDepth > 0 {
		// Crawls always enforce max_pages, including clamping an
		// unreasonable caller-supplied value.
		if opts.maxPages > hardCrawlMaxPages {
			opts.maxPages = hardCrawlMaxPages
		}
		if opts.maxPages < 1 {
			opts.maxPages = 1
		}
	}

	opts.allowedDomains = stringSlice(input["allowed_domains"])
	opts.blockedDomains = stringSlice(input["blocked_domains"])

	for _, p := range stringSlice(input["url_patterns"]) {
		g, err := glob.Compile(p)
		if err != nil {
			return opts, fmt.Errorf("invalid url_pattern %q: %w", p, err)
		}
		opts.patterns = append(opts.patterns, g)
	}

	return opts, nil
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func normalizeURL(u string) string {
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return "https://" + u
	}
	return u
}

// frontierEntry is one pending crawl target.
type frontierEntry struct {
	url   string
	depth int
}

// crawl performs a bounded, multi-page fetch from startURL, honoring
// opts.strategy for frontier order and always stopping at opts.maxPages
// or opts.maxDepth, whichever comes first.
func crawl(ctx context.Context, startURL, format string, opts crawlOptions) (*ToolResult, error) {
	visited := map[string]bool{startURL: true}
	frontier := list.New()
	frontier.PushBack(frontierEntry{url: startURL, depth: 0})

	var sb strings.Builder
	fetched := 0

	for frontier.Len() > 0 && fetched < opts.maxPages {
		entry := popFrontier(frontier, opts.strategy)

		page, err := fetchPage(ctx, entry.url, format, true)
		if err != nil {
			sb.WriteString(fmt.Sprintf("--- %s ---\nError: %v\n\n", entry.url, err))
			continue
		}
		fetched++
		sb.WriteString(fmt.Sprintf("--- [%d/%d] %s (depth %d) ---\n%s\n\n", fetched, opts.maxPages, entry.url, entry.depth, page.content))

		if entry.depth >= opts.maxDepth {
			continue
		}
		for _, link := range page.links {
			if visited[link] {
				continue
			}
			if !linkAllowed(link, opts) {
				continue
			}
			visited[link] = true
			next := frontierEntry{url: link, depth: entry.depth + 1}
			if opts.strategy == "best_first" && matchesAnyPattern(link, opts.patterns) {
				frontier.PushFront(next) // prioritize pattern matches
			} else {
				frontier.PushBack(next)
			}
		}
	}

	header := fmt.Sprintf("Crawled %d page(s) from %s (strategy=%s, max_depth=%d, max_pages=%d)\n\n", fetched, startURL, opts.strategy, opts.maxDepth, opts.maxPages)
	return &ToolResult{Output: header + sb.String()}, nil
}

// popFrontier removes and returns the next entry per strategy: dfs pops
// the most recently added (stack), bfs/best_first pop the oldest
// (queue) — best_first's prioritization already happened at push time
// via pushFront for pattern matches.
func popFrontier(frontier *list.List, strategy string) frontierEntry {
	var e *list.Element
	if strategy == "dfs" {
		e = frontier.Back()
	} else {
		e = frontier.Front()
	}
	frontier.Remove(e)
	return e.Value.(frontierEntry)
}

func matchesAnyPattern(link string, patterns []glob.Glob) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, g := range patterns {
		if g.Match(link) {
			return true
		}
	}
	return false
}

func linkAllowed(link string, opts crawlOptions) bool {
	parsed, err := url.Parse(link)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Hostname()

	if len(opts.blockedDomains) > 0 && domainMatches(host, opts.blockedDomains) {
		return false
	}
	if len(opts.allowedDomains) > 0 && !domainMatches(host, opts.allowedDomains) {
		return false
	}
	if len(opts.patterns) > 0 && !matchesAnyPattern(link, opts.patterns) {
		return false
	}
	return true
}

// domainMatches reports whether host equals, or is a subdomain of, any
// entry in domains.
func domainMatches(host string, domains []string) bool {
	host = strings.ToLower(host)
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

type fetchedPage struct {
	content     string
	contentType string
	rawSize     int
	links       []string
}

// fetchPage fetches and converts a single page. extractLinks controls
// whether absolute link URLs are harvested from the HTML for crawling —
// skipped on the single-fetch fast path to avoid the extra work.
func fetchPage(ctx context.Context, pageURL, format string, extractLinks bool) (*fetchedPage, error) {
	client := &http.Client{Timeout: 30 * time.Second}

	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "DCode/2.0 (AI Coding Agent)")
	req.Header.Set("Accept", "text/html,application/json,text/plain,*/*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	limitReader := io.LimitReader(resp.Body, 5*1024*1024)
	body, err := io.ReadAll(limitReader)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	raw := string(body)
	contentType := resp.Header.Get("Content-Type")
	isHTML := strings.Contains(contentType, "text/html")

	var links []string
	if extractLinks && isHTML {
		links = extractAbsoluteLinks(raw, pageURL)
	}

	content := raw
	if isHTML && format != "html" {
		content = htmlToText(raw)
	}
	if len(content) > 100*1024 {
		content = content[:100*1024] + "\n\n... (content truncated at 100KB)"
	}

	return &fetchedPage{content: content, contentType: contentType, rawSize: len(body), links: links}, nil
}

// extractAbsoluteLinks pulls href targets out of raw HTML and resolves
// them against base, dropping anything that isn't a fetchable http(s)
// URL.
func extractAbsoluteLinks(html, base string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}

	seen := map[string]bool{}
	var out []string
	for _, m := range linkHrefRe.FindAllStringSubmatch(html, -1) {
		ref, err := url.Parse(m[1])
		if err != nil {
			continue
		}
		resolved := baseURL.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			continue
		}
		resolved.Fragment = ""
		link := resolved.String()
		if seen[link] {
			continue
		}
		seen[link] = true
		out = append(out, link)
	}
	return out
}

// htmlToText converts HTML to readable plain text
func htmlToText(html string) string {
	// Remove script and style tags
	scriptRe := regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	html = scriptRe.ReplaceAllString(html, "")
	styleRe := regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	html = styleRe.ReplaceAllString(html, "")

	// Convert headings
	for i := 6; i >= 1; i-- {
		re := regexp.MustCompile(fmt.Sprintf(`(?is)<h%d[^>]*>(.*?)</h%d>`, i, i))
		prefix := strings.Repeat("#", i)
		html = re.ReplaceAllString(html, "\n"+prefix+" $1\n")
	}

	// Convert paragraphs and divs to newlines
	pRe := regexp.MustCompile(`(?is)<(?:p|div)[^>]*>`)
	html = pRe.ReplaceAllString(html, "\n")
	pCloseRe := regexp.MustCompile(`(?is)</(?:p|div)>`)
	html = pCloseRe.ReplaceAllString(html, "\n")

	// Convert br tags
	brRe := regexp.MustCompile(`(?is)<br\s*/?>`)
	html = brRe.ReplaceAllString(html, "\n")

	// Convert line items
	liRe := regexp.MustCompile(`(?is)<li[^>]*>`)
	html = liRe.ReplaceAllString(html, "\n- ")

	// Convert links
	linkRe := regexp.MustCompile(`(?is)<a[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	html = linkRe.ReplaceAllString(html, "$2 ($1)")

	// Convert bold/strong
	boldRe := regexp.MustCompile(`(?is)<(?:b|strong)[^>]*>(.*?)</(?:b|strong)>`)
	html = boldRe.ReplaceAllString(html, "**$1**")

	// Convert italic/em
	italicRe := regexp.MustCompile(`(?is)<(?:i|em)[^>]*>(.*?)</(?:i|em)>`)
	html = italicRe.ReplaceAllString(html, "*$1*")

	// Convert code
	codeRe := regexp.MustCompile(`(?is)<code[^>]*>(.*?)</code>`)
	html = codeRe.ReplaceAllString(html, "`$1`")

	// Convert pre blocks
	preRe := regexp.MustCompile(`(?is)<pre[^>]*>(.*?)</pre>`)
	html = preRe.ReplaceAllString(html, "\n```\n$1\n```\n")

	// Remove remaining HTML tags
	tagRe := regexp.MustCompile(`<[^>]+>`)
	html = tagRe.ReplaceAllString(html, "")

	// Decode common HTML entities
	html = strings.ReplaceAll(html, "&amp;", "&")
	html = strings.ReplaceAll(html, "&lt;", "<")
	html = strings.ReplaceAll(html, "&gt;", ">")
	html = strings.ReplaceAll(html, "&quot;", "\"")
	html = strings.ReplaceAll(html, "&#39;", "'")
	html = strings.ReplaceAll(html, "&nbsp;", " ")

	// Clean up whitespace
	multiNewline := regexp.MustCompile(`\n{3,}`)
	html = multiNewline.ReplaceAllString(html, "\n\n")
	html = strings.TrimSpace(html)

	return html
}
