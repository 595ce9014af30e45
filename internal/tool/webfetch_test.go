package tool

import (
	"container/list"
	"testing"

	"github.com/gobwas/glob"
)

func TestParseCrawlOptionsDefaults(t *testing.T) {
	opts, err := parseCrawlOptions(map[string]interface{}{})
	if err != nil {
		t.Fatalf("parseCrawlOptions: %v", err)
	}
	if opts.strategy != "best_first" {
		t.Errorf("default strategy: want best_first, got %s", opts.strategy)
	}
	if opts.maxDepth != 0 {
		t.Errorf("default max_depth: want 0 (single fetch), got %d", opts.maxDepth)
	}
}

func TestParseCrawlOptionsEnforcesMaxPagesHardCap(t *testing.T) {
	opts, err := parseCrawlOptions(map[string]interface{}{
		"max_depth": float64(2),
		"max_pages": float64(9999),
	})
	if err != nil {
		t.Fatalf("parseCrawlOptions: %v", err)
	}
	if opts.maxPages != hardCrawlMaxPages {
		t.Errorf("max_pages: want clamped to %d, got %d", hardCrawlMaxPages, opts.maxPages)
	}
}

func TestParseCrawlOptionsDefaultsMaxPagesWhenCrawling(t *testing.T) {
	opts, err := parseCrawlOptions(map[string]interface{}{"max_depth": float64(1)})
	if err != nil {
		t.Fatalf("parseCrawlOptions: %v", err)
	}
	if opts.maxPages != defaultCrawlMaxPages {
		t.Errorf("max_pages: want default %d when crawling with none specified, got %d", defaultCrawlMaxPages, opts.maxPages)
	}
}

func TestParseCrawlOptionsRejectsUnknownStrategy(t *testing.T) {
	if _, err := parseCrawlOptions(map[string]interface{}{"strategy": "random_walk"}); err == nil {
		t.Fatal("expected unknown strategy to be rejected")
	}
}

func TestDomainMatchesExactAndSubdomain(t *testing.T) {
	domains := []string{"example.com"}
	if !domainMatches("example.com", domains) {
		t.Error("expected exact domain match")
	}
	if !domainMatches("docs.example.com", domains) {
		t.Error("expected subdomain match")
	}
	if domainMatches("notexample.com", domains) {
		t.Error("notexample.com should not match example.com")
	}
}

func TestLinkAllowedBlockedDomainWins(t *testing.T) {
	opts := crawlOptions{
		allowedDomains: []string{"example.com"},
		blockedDomains: []string{"ads.example.com"},
	}
	if linkAllowed("https://ads.example.com/x", opts) {
		t.Error("blocked subdomain should not be allowed even though parent domain is allowed")
	}
	if !linkAllowed("https://docs.example.com/x", opts) {
		t.Error("allowed subdomain should be followed")
	}
	if linkAllowed("https://other.com/x", opts) {
		t.Error("domain outside allow-list should not be followed")
	}
}

func TestLinkAllowedURLPatternFilter(t *testing.T) {
	g, err := glob.Compile("*/docs/*")
	if err != nil {
		t.Fatalf("glob.Compile: %v", err)
	}
	opts := crawlOptions{patterns: []glob.Glob{g}}
	if !linkAllowed("https://example.com/docs/intro", opts) {
		t.Error("expected /docs/ path to match pattern")
	}
	if linkAllowed("https://example.com/blog/post", opts) {
		t.Error("expected /blog/ path to be filtered out by url_patterns")
	}
}

func TestExtractAbsoluteLinksResolvesRelativeAndDropsFragments(t *testing.T) {
	html := `<a href="/docs/intro">Intro</a><a href="https://other.com/x#frag">Other</a><a href="mailto:a@b.com">Mail</a>`
	links := extractAbsoluteLinks(html, "https://example.com/start")
	want := map[string]bool{
		"https://example.com/docs/intro": true,
		"https://other.com/x":            true,
	}
	if len(links) != len(want) {
		t.Fatalf("want %d links, got %d: %v", len(want), len(links), links)
	}
	for _, l := range links {
		if !want[l] {
			t.Errorf("unexpected link: %s", l)
		}
	}
}

func TestPopFrontierDFSPopsMostRecentlyAdded(t *testing.T) {
	frontier := list.New()
	frontier.PushBack(frontierEntry{url: "a"})
	frontier.PushBack(frontierEntry{url: "b"})
	got := popFrontier(frontier, "dfs")
	if got.url != "b" {
		t.Errorf("dfs: want most recently pushed (b), got %s", got.url)
	}
}

func TestPopFrontierBFSPopsOldest(t *testing.T) {
	frontier := list.New()
	frontier.PushBack(frontierEntry{url: "a"})
	frontier.PushBack(frontierEntry{url: "b"})
	got := popFrontier(frontier, "bfs")
	if got.url != "a" {
		t.Errorf("bfs: want oldest (a), got %s", got.url)
	}
}

func TestNormalizeURLAddsScheme(t *testing.T) {
	if got := normalizeURL("example.com"); got != "https://example.com" {
		t.Errorf("normalizeURL: want https:// prefix added, got %s", got)
	}
	if got := normalizeURL("http://example.com"); got != "http://example.com" {
		t.Errorf("normalizeURL: existing scheme should be left alone, got %s", got)
	}
}
