// Package sitemap discovers candidate pages from an XML sitemap and
// resolves each page into the text and metadata kseo analyzes.
package sitemap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/hazyhaar/kseo/kseosafe"
)

// Config configures a Colly discoverer.
type Config struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
	// Limit caps the number of URLs returned. 0 = no cap.
	Limit int
	// MaxDepth bounds nested sitemap indexes. Default: 2.
	MaxDepth int
	Logger   *slog.Logger
}

// Colly reads <urlset> and <sitemapindex> documents with a colly collector.
type Colly struct {
	cfg Config
}

// NewColly validates the sitemap URL and returns a discoverer.
func NewColly(cfg Config) (*Colly, error) {
	if _, err := kseosafe.ValidateScheme(cfg.URL); err != nil {
		return nil, fmt.Errorf("sitemap: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "kseo/1.0 (+sitemap)"
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Colly{cfg: cfg}, nil
}

// Discover returns page URLs in sitemap order, deduplicated. A fetch error
// on a nested sitemap is logged and skipped; an error on the root sitemap
// is returned.
func (c *Colly) Discover(ctx context.Context) ([]string, error) {
	var (
		mu   sync.Mutex
		urls []string
		seen = map[string]bool{}
		full bool
	)

	col := colly.NewCollector(
		colly.UserAgent(c.cfg.UserAgent),
		colly.MaxDepth(c.cfg.MaxDepth),
	)
	col.SetRequestTimeout(c.cfg.Timeout)

	col.OnRequest(func(r *colly.Request) {
		mu.Lock()
		stop := full
		mu.Unlock()
		if stop || ctx.Err() != nil {
			r.Abort()
		}
	})

	col.OnXML("//sitemapindex/sitemap/loc", func(e *colly.XMLElement) {
		loc := strings.TrimSpace(e.Text)
		if loc == "" {
			return
		}
		if err := e.Request.Visit(loc); err != nil {
			c.cfg.Logger.Debug("sitemap: nested visit skipped", "url", loc, "error", err)
		}
	})

	col.OnXML("//urlset/url/loc", func(e *colly.XMLElement) {
		loc := strings.TrimSpace(e.Text)
		mu.Lock()
		defer mu.Unlock()
		if loc == "" || seen[loc] || full {
			return
		}
		seen[loc] = true
		urls = append(urls, loc)
		if c.cfg.Limit > 0 && len(urls) >= c.cfg.Limit {
			full = true
		}
	})

	var rootErr error
	col.OnError(func(r *colly.Response, err error) {
		if r.Request.Depth <= 1 {
			rootErr = fmt.Errorf("sitemap: fetch %s: %w", r.Request.URL, err)
			return
		}
		c.cfg.Logger.Warn("sitemap: nested fetch failed", "url", r.Request.URL.String(), "error", err)
	})

	if err := col.Visit(c.cfg.URL); err != nil {
		return nil, fmt.Errorf("sitemap: visit %s: %w", c.cfg.URL, err)
	}
	col.Wait()
	if rootErr != nil {
		return nil, rootErr
	}

	c.cfg.Logger.Debug("sitemap: discovered", "url", c.cfg.URL, "count", len(urls))
	return urls, nil
}

// Static is a fixed URL list, for hosts that push their candidates.
type Static []string

func (s Static) Discover(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}
