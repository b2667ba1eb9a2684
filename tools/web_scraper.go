package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/chromedp/chromedp"
	"golang.org/x/net/html"
)

const (
	defaultSettle        = 3 * time.Second
	defaultRenderTimeout = 45 * time.Second
)

// Renderer returns the document of a page after client-side scripts ran.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

type RendererFunc func(ctx context.Context, url string) (string, error)

func (f RendererFunc) Render(ctx context.Context, url string) (string, error) { return f(ctx, url) }

// BrowserRenderer drives a headless Chrome per call and closes it afterwards.
type BrowserRenderer struct {
	execPath string
	settle   time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

type BrowserOption func(*BrowserRenderer)

func WithExecPath(p string) BrowserOption {
	return func(r *BrowserRenderer) { r.execPath = p }
}

func WithSettle(d time.Duration) BrowserOption {
	return func(r *BrowserRenderer) {
		if d > 0 {
			r.settle = d
		}
	}
}

func WithRenderTimeout(d time.Duration) BrowserOption {
	return func(r *BrowserRenderer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithBrowserLogger(l *slog.Logger) BrowserOption {
	return func(r *BrowserRenderer) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewBrowserRenderer(opts ...BrowserOption) *BrowserRenderer {
	r := &BrowserRenderer{
		settle:  defaultSettle,
		timeout: defaultRenderTimeout,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *BrowserRenderer) Render(ctx context.Context, url string) (string, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.NoSandbox, chromedp.DisableGPU)
	if r.execPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(r.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, r.timeout)
	defer cancelTimeout()

	var doc string
	start := time.Now()
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(r.settle),
		chromedp.OuterHTML("html", &doc, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	r.logger.Debug("rendered page", "url", url, "bytes", len(doc), "elapsed", time.Since(start))
	return doc, nil
}

// Page renders url, falling back to a plain GET. Both failing yields an
// empty document rather than an error.
func (e *Extractor) Page(ctx context.Context, url string) string {
	if e.renderer != nil {
		doc, err := e.renderer.Render(ctx, url)
		if err == nil {
			return doc
		}
		e.logger.Warn("render failed, falling back to plain fetch", "url", url, "error", err)
	}
	f, err := e.fetch(ctx, url)
	if err != nil {
		e.logger.Warn("plain fetch failed", "url", url, "error", err)
		return ""
	}
	return string(f.Body)
}

// Scrape returns the rendered page as HTML, or as Markdown when format is
// "markdown".
func (e *Extractor) Scrape(ctx context.Context, url, format string) Result {
	doc := e.Page(ctx, url)
	if !strings.EqualFold(format, "markdown") || doc == "" {
		return OK(doc)
	}
	md, err := htmltomarkdown.ConvertString(doc)
	if err != nil {
		return Failure(WebScraper, url, fmt.Errorf("convert to markdown: %w", err))
	}
	return OK(md)
}

// Tables returns the <table> elements of the rendered page together with the
// headings that label them, or the full document when it has no tables.
func (e *Extractor) Tables(ctx context.Context, url string) Result {
	doc := e.Page(ctx, url)
	if doc == "" {
		return OK("")
	}
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return OK(doc)
	}
	nodes, tables := collectTables(root)
	if tables == 0 {
		return OK(doc)
	}

	var sb strings.Builder
	for i, n := range nodes {
		if i > 0 {
			sb.WriteString("\n")
		}
		if err := html.Render(&sb, n); err != nil {
			return Failure(TableExtractor, url, fmt.Errorf("render <%s> %d: %w", n.Data, i+1, err))
		}
	}
	return OK(sb.String())
}

var headingTags = map[string]bool{"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true}

// collectTables returns tables and headings in document order, plus the
// number of tables among them.
func collectTables(n *html.Node) ([]*html.Node, int) {
	var nodes []*html.Node
	tables := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "table" || headingTags[n.Data]) {
			nodes = append(nodes, n)
			if n.Data == "table" {
				tables++
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return nodes, tables
}
