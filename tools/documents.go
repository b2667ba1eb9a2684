package tools

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/ledongthuc/pdf"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

var zipTextExtensions = map[string]bool{
	".txt":  true,
	".csv":  true,
	".json": true,
	".xml":  true,
	".html": true,
	".md":   true,
	".py":   true,
	".js":   true,
}

// PDFText extracts the text of every page, newline separated and capped at
// MaxPDFChars.
func (e *Extractor) PDFText(ctx context.Context, rawURL string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failure(PDFScraper, rawURL, fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	f, err := e.fetch(ctx, rawURL)
	if err != nil {
		return Failure(PDFScraper, rawURL, err)
	}
	text, err := pdfText(f.Body)
	if err != nil {
		return Failure(PDFScraper, rawURL, err)
	}
	return OK(Truncate(text, MaxPDFChars))
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\n"), nil
}

// ZipListing lists every entry in archive order and inlines text-like
// members. Top-level entries starting with an underscore, such as __MACOSX/,
// are listed by name only.
func (e *Extractor) ZipListing(ctx context.Context, rawURL string) Result {
	f, err := e.fetch(ctx, rawURL)
	if err != nil {
		return Failure(ZipExtractor, rawURL, err)
	}
	out, err := zipListing(f.Body)
	if err != nil {
		return Failure(ZipExtractor, rawURL, err)
	}
	return OK(out)
}

func zipListing(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open zip: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "ZIP archive with %d entries:\n", len(zr.File))
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		if isMetadataEntry(zf.Name) {
			fmt.Fprintf(&sb, "\n--- %s (metadata, not inlined) ---\n", zf.Name)
			continue
		}
		ext := strings.ToLower(path.Ext(zf.Name))
		if !zipTextExtensions[ext] {
			fmt.Fprintf(&sb, "\n--- %s (binary, %s, not inlined) ---\n", zf.Name, humanize.Bytes(zf.UncompressedSize64))
			continue
		}
		text, err := readZipText(zf)
		if err != nil {
			fmt.Fprintf(&sb, "\n--- %s (unreadable: %v) ---\n", zf.Name, err)
			continue
		}
		fmt.Fprintf(&sb, "\n--- %s ---\n%s\n", zf.Name, Truncate(text, MaxZipEntryChars))
	}
	return Truncate(sb.String(), MaxZipChars), nil
}

func isMetadataEntry(name string) bool {
	return strings.HasPrefix(name, "_")
}

func readZipText(zf *zip.File) (string, error) {
	rc, err := zf.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	// Read a little past the per-entry cap; the rest is never shown.
	raw, err := io.ReadAll(io.LimitReader(rc, int64(MaxZipEntryChars)*4+4))
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(raw), ""), nil
}

// JSONQueryResult applies a JSONPath expression to a JSON document. When the
// expression cannot be parsed the whole document is returned with a note so
// the assistant can filter it itself.
func (e *Extractor) JSONQueryResult(ctx context.Context, rawURL, expr string) Result {
	f, err := e.fetch(ctx, rawURL)
	if err != nil {
		return Failure(JSONQuery, rawURL, err)
	}
	out, err := queryJSON(f.Body, expr)
	if err != nil {
		return Failure(JSONQuery, rawURL, err)
	}
	return OK(Truncate(out, MaxJSONChars))
}

func queryJSON(body []byte, expr string) (string, error) {
	doc, err := oj.Parse(body)
	if err != nil {
		return "", fmt.Errorf("parse json: %w", err)
	}
	x, err := jp.ParseString(expr)
	if err != nil {
		return fmt.Sprintf("Note: JSONPath %q could not be applied (%v). Full JSON follows; filter it yourself.\n%s", expr, err, oj.JSON(doc)), nil
	}
	matches := x.Get(doc)
	switch len(matches) {
	case 0:
		return fmt.Sprintf("Note: JSONPath %q matched nothing. Full JSON follows; filter it yourself.\n%s", expr, oj.JSON(doc)), nil
	case 1:
		return oj.JSON(matches[0]), nil
	default:
		return oj.JSON(matches), nil
	}
}
