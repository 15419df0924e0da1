package sitemap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hazyhaar/kseo/kseosafe"
)

func sitemapServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%s/posts.xml</loc></sitemap>
  <sitemap><loc>%s/pages.xml</loc></sitemap>
</sitemapindex>`, srv.URL, srv.URL)
	})
	mux.HandleFunc("/posts.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://x.test/a</loc></url>
  <url><loc>https://x.test/b</loc></url>
  <url><loc>https://x.test/a</loc></url>
</urlset>`)
	})
	mux.HandleFunc("/pages.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://x.test/c</loc></url>
</urlset>`)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestColly_DiscoverIndex(t *testing.T) {
	// WHAT: A sitemap index is followed and URLs are deduplicated in order.
	srv := sitemapServer(t)
	d, err := NewColly(Config{URL: srv.URL + "/sitemap.xml"})
	if err != nil {
		t.Fatal(err)
	}
	urls, err := d.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"https://x.test/a", "https://x.test/b", "https://x.test/c"}
	if fmt.Sprint(urls) != fmt.Sprint(want) {
		t.Fatalf("urls = %v, want %v", urls, want)
	}
}

func TestColly_Limit(t *testing.T) {
	srv := sitemapServer(t)
	d, _ := NewColly(Config{URL: srv.URL + "/sitemap.xml", Limit: 2})
	urls, err := d.Discover(context.Background())
	if err != nil || len(urls) != 2 {
		t.Fatalf("urls = %v, %v", urls, err)
	}
}

func TestColly_RootError(t *testing.T) {
	srv := sitemapServer(t)
	d, _ := NewColly(Config{URL: srv.URL + "/missing.xml"})
	if _, err := d.Discover(context.Background()); err == nil {
		t.Fatal("expected error for missing root sitemap")
	}
	if _, err := NewColly(Config{URL: "ftp://x.test/s.xml"}); !errors.Is(err, kseosafe.ErrUnsafeScheme) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseHTML(t *testing.T) {
	html := `<html><head><title> Engine  Oil Guide </title>
<meta name="description" content="How to pick oil">
<meta name="keywords" content="Engine Oil, lubricant">
<link rel="canonical" href="/guides/oil">
<script>var x = "Ignored Text";</script></head>
<body><h1>Best Engine Oil</h1><p>Choose Castrol Edge for <b>high</b> mileage.</p><ul><li>Viscosity</li></ul></body></html>`

	p, err := ParseHTML([]byte(html), "text/html; charset=utf-8")
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "Engine Oil Guide" || p.H1 != "Best Engine Oil" || p.Description != "How to pick oil" {
		t.Fatalf("page = %+v", p)
	}
	if len(p.Keywords) != 2 || p.Keywords[0] != "engine oil" || p.Seed() != "engine oil" {
		t.Fatalf("keywords = %v", p.Keywords)
	}
	want := "Best Engine Oil\nChoose Castrol Edge for high mileage.\nViscosity"
	if p.Text != want {
		t.Fatalf("text = %q", p.Text)
	}
}

func TestParseHTML_Latin1(t *testing.T) {
	// "Café" in ISO-8859-1.
	body := []byte("<html><head><title>Caf\xe9</title></head><body></body></html>")
	p, err := ParseHTML(body, "text/html; charset=iso-8859-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "Café" {
		t.Fatalf("title = %q", p.Title)
	}
}

func TestPageResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>T</title><link rel="canonical" href="/canon"></head><body><p>Hello</p></body></html>`)
	}))
	defer srv.Close()

	r := NewPageResolver()
	if _, err := r.Resolve(context.Background(), srv.URL+"/page"); !errors.Is(err, kseosafe.ErrSSRF) {
		t.Fatalf("loopback fetch err = %v, want ErrSSRF", err)
	}

	r.AllowPrivate = true
	p, err := r.Resolve(context.Background(), srv.URL+"/page")
	if err != nil {
		t.Fatal(err)
	}
	if p.SubjectID() != srv.URL+"/canon" || p.Seed() != "T" || p.Text != "Hello" {
		t.Fatalf("page = %+v", p)
	}
	if _, err := r.Resolve(context.Background(), srv.URL+"/gone"); err == nil {
		t.Fatal("404 should fail")
	}
}
