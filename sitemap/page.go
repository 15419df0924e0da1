package sitemap

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/hazyhaar/kseo/kseosafe"
)

// Page is a resolved subject.
type Page struct {
	URL         string   `json:"url"`
	Canonical   string   `json:"canonical"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	H1          string   `json:"h1"`
	Text        string   `json:"text"`
}

// SubjectID identifies the page in stored results.
func (p Page) SubjectID() string {
	if p.Canonical != "" {
		return p.Canonical
	}
	return p.URL
}

// Seed is the phrase analysis is run against: the first meta keyword, else
// the H1, else the title.
func (p Page) Seed() string {
	if len(p.Keywords) > 0 {
		return p.Keywords[0]
	}
	if p.H1 != "" {
		return p.H1
	}
	return p.Title
}

// PageResolver fetches pages over HTTP.
type PageResolver struct {
	Client       *http.Client
	UserAgent    string
	MaxBody      int64
	AllowPrivate bool
}

// NewPageResolver returns a resolver with a 5s timeout.
func NewPageResolver() *PageResolver {
	return &PageResolver{
		Client:    &http.Client{Timeout: 5 * time.Second},
		UserAgent: "kseo/1.0",
		MaxBody:   kseosafe.MaxResponseBody,
	}
}

// Resolve fetches and parses one page.
func (r *PageResolver) Resolve(ctx context.Context, pageURL string) (Page, error) {
	check := kseosafe.ValidateURL
	if r.AllowPrivate {
		check = func(u string) error { _, err := kseosafe.ValidateScheme(u); return err }
	}
	if err := check(pageURL); err != nil {
		return Page{}, fmt.Errorf("sitemap: resolve %s: %w", pageURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", r.UserAgent)
	resp, err := r.Client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("sitemap: fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Page{}, fmt.Errorf("sitemap: fetch %s: status %d", pageURL, resp.StatusCode)
	}
	body, err := kseosafe.LimitedReadAll(resp.Body, r.MaxBody)
	if err != nil {
		return Page{}, fmt.Errorf("sitemap: read %s: %w", pageURL, err)
	}

	p, err := ParseHTML(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return Page{}, fmt.Errorf("sitemap: parse %s: %w", pageURL, err)
	}
	p.URL = pageURL
	if p.Canonical != "" {
		if u, err := resp.Request.URL.Parse(p.Canonical); err == nil {
			p.Canonical = u.String()
		}
	}
	return p, nil
}

var spaceRe = regexp.MustCompile(`\s+`)

// ParseHTML extracts page metadata and body text, decoding the document to
// UTF-8 first.
func ParseHTML(data []byte, contentType string) (Page, error) {
	enc, _, _ := charset.DetermineEncoding(data, contentType)
	utf8data, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		if !utf8.Valid(data) {
			return Page{}, err
		}
		utf8data = data
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(utf8data))
	if err != nil {
		return Page{}, err
	}
	doc.Find("script,noscript,style,template").Remove()

	clean := func(s string) string { return strings.TrimSpace(spaceRe.ReplaceAllString(s, " ")) }

	p := Page{
		Title:     clean(doc.Find("title").First().Text()),
		H1:        clean(doc.Find("h1").First().Text()),
		Canonical: strings.TrimSpace(doc.Find(`link[rel="canonical"]`).AttrOr("href", "")),
		Keywords:  []string{},
	}
	p.Description = strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	if p.Description == "" {
		p.Description = strings.TrimSpace(doc.Find(`meta[property="og:description"]`).AttrOr("content", ""))
	}
	if kw := doc.Find(`meta[name="keywords"]`).AttrOr("content", ""); kw != "" {
		for _, k := range strings.Split(kw, ",") {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				p.Keywords = append(p.Keywords, k)
			}
		}
	}

	var parts []string
	doc.Find("h1,h2,h3,p,li").Each(func(_ int, s *goquery.Selection) {
		if t := clean(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	p.Text = strings.Join(parts, "\n")
	return p, nil
}
