package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/PipeOpsHQ/quiz-agent/llm"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; quiz-agent/1.0)"
	uploadPurpose    = "assistants"
)

// maxDownloadBytes caps every response body. Larger bodies are an error.
var maxDownloadBytes int64 = 100 << 20

// Extractor turns a URL into a single string the assistant can use: inline
// content, a transcript, a listing, or a handle to an uploaded file.
type Extractor struct {
	httpClient  *http.Client
	files       llm.FileStore
	transcriber llm.Transcriber
	vision      llm.Vision
	renderer    Renderer
	cache       *ResourceCache
	tempDir     string
	userAgent   string
	logger      *slog.Logger
}

type ExtractorOption func(*Extractor)

func WithHTTPClient(h *http.Client) ExtractorOption {
	return func(e *Extractor) {
		if h != nil {
			e.httpClient = h
		}
	}
}

func WithFileStore(fs llm.FileStore) ExtractorOption {
	return func(e *Extractor) { e.files = fs }
}

func WithTranscriber(t llm.Transcriber) ExtractorOption {
	return func(e *Extractor) { e.transcriber = t }
}

func WithVision(v llm.Vision) ExtractorOption {
	return func(e *Extractor) { e.vision = v }
}

func WithRenderer(r Renderer) ExtractorOption {
	return func(e *Extractor) { e.renderer = r }
}

func WithCache(c *ResourceCache) ExtractorOption {
	return func(e *Extractor) {
		if c != nil {
			e.cache = c
		}
	}
}

func WithTempDir(dir string) ExtractorOption {
	return func(e *Extractor) { e.tempDir = dir }
}

func WithLogger(l *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		cache:      NewResourceCache(),
		userAgent:  defaultUserAgent,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Extractor) Cache() *ResourceCache { return e.cache }

type fetched struct {
	Body        []byte
	ContentType string
}

func (e *Extractor) fetch(ctx context.Context, rawURL string) (*fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, Truncate(strings.TrimSpace(string(body)), 500))
	}
	e.logger.Debug("downloaded",
		"url", rawURL,
		"size", humanize.Bytes(uint64(len(body))),
		"content_type", resp.Header.Get("Content-Type"),
	)
	return &fetched{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

func readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxDownloadBytes {
		return nil, fmt.Errorf("response exceeds %s limit", humanize.IBytes(uint64(maxDownloadBytes)))
	}
	return body, nil
}

// Download classifies a URL and extracts it. First match wins: PDF,
// spreadsheet, ZIP, cached URL, text-like content, then binary upload.
func (e *Extractor) Download(ctx context.Context, rawURL string) Result {
	switch extensionOf(rawURL) {
	case ".pdf":
		return e.PDFText(ctx, rawURL)
	case ".xlsx", ".xls":
		return e.Spreadsheet(ctx, rawURL)
	case ".zip":
		return e.ZipListing(ctx, rawURL)
	}

	if entry, ok := e.cache.Lookup(rawURL); ok {
		return OK(cachedMessage(entry, ""))
	}

	f, err := e.fetch(ctx, rawURL)
	if err != nil {
		return Failure(WebDownloader, rawURL, err)
	}
	if isTextual(f.ContentType, extensionOf(rawURL)) {
		e.cache.MarkInline(rawURL)
		return OK(string(f.Body))
	}
	return e.upload(ctx, WebDownloader, rawURL, f.Body, "")
}

// Spreadsheet uploads a workbook instead of parsing it locally and returns
// the handle with guidance for Code Interpreter.
func (e *Extractor) Spreadsheet(ctx context.Context, rawURL string) Result {
	guidance := "This is a spreadsheet. Load it in Code Interpreter with pandas.read_excel() to inspect its sheets and rows."
	if entry, ok := e.cache.Lookup(rawURL); ok {
		return OK(cachedMessage(entry, guidance))
	}
	f, err := e.fetch(ctx, rawURL)
	if err != nil {
		return Failure(ExcelParser, rawURL, err)
	}
	return e.upload(ctx, ExcelParser, rawURL, f.Body, guidance)
}

func (e *Extractor) upload(ctx context.Context, op Name, rawURL string, body []byte, guidance string) Result {
	if e.files == nil {
		return Failure(op, rawURL, fmt.Errorf("file storage is not configured"))
	}

	tmp, err := os.CreateTemp(e.tempDir, "download-*"+extensionOf(rawURL))
	if err != nil {
		return Failure(op, rawURL, fmt.Errorf("create temp file: %w", err))
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()
	if _, err := io.Copy(tmp, bytes.NewReader(body)); err != nil {
		return Failure(op, rawURL, fmt.Errorf("write temp file: %w", err))
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return Failure(op, rawURL, fmt.Errorf("rewind temp file: %w", err))
	}

	fileID, err := e.files.UploadFile(ctx, uploadName(rawURL), tmp, uploadPurpose)
	if err != nil {
		return Failure(op, rawURL, err)
	}
	e.cache.StoreHandle(rawURL, fileID)
	e.logger.Info("uploaded file", "url", rawURL, "file_id", fileID, "size", humanize.Bytes(uint64(len(body))))
	return OK(uploadMessage(fileID, guidance))
}

func uploadMessage(fileID, guidance string) string {
	msg := fmt.Sprintf("File uploaded successfully. ID: %s. Use this ID with Code Interpreter tools.", fileID)
	if guidance != "" {
		msg += " " + guidance
	}
	return msg
}

func cachedMessage(entry CacheEntry, guidance string) string {
	if entry.Kind == EntryHandle {
		return uploadMessage(entry.FileID, guidance)
	}
	return InlineMarker
}

func isTextual(contentType, ext string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "text") || strings.Contains(ct, "csv") || strings.Contains(ct, "json") {
		return true
	}
	switch ext {
	case ".csv", ".json", ".txt":
		return true
	}
	return false
}

// extensionOf returns the lowercased extension of the URL path, ignoring any
// query string or fragment.
func extensionOf(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}

func uploadName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			return base
		}
	}
	return "download" + extensionOf(rawURL)
}
