package tools

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/PipeOpsHQ/quiz-agent/llm"
)

type fakeFileStore struct {
	mu      sync.Mutex
	uploads []string
	data    map[string][]byte
	err     error
}

func (f *fakeFileStore) UploadFile(_ context.Context, filename string, content io.Reader, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	raw, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	if f.data == nil {
		f.data = map[string][]byte{}
	}
	id := fmt.Sprintf("file-%d", len(f.uploads)+1)
	f.uploads = append(f.uploads, filename)
	f.data[id] = raw
	return id, nil
}

func (f *fakeFileStore) FileContent(_ context.Context, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.data[fileID]
	if !ok {
		return nil, fmt.Errorf("no file %s", fileID)
	}
	return raw, nil
}

func (f *fakeFileStore) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

type fakeTranscriber struct {
	filename  string
	mediaType string
	body      string
	err       error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, filename, mediaType string, audio io.Reader) (string, error) {
	raw, err := io.ReadAll(audio)
	if err != nil {
		return "", err
	}
	f.filename, f.mediaType, f.body = filename, mediaType, string(raw)
	if f.err != nil {
		return "", f.err
	}
	return "transcript of " + string(raw), nil
}

type fakeVision struct {
	got llm.ImageInput
}

func (f *fakeVision) Name() string { return "fake" }

func (f *fakeVision) DescribeImage(_ context.Context, in llm.ImageInput) (string, error) {
	f.got = in
	return "a chart with 3 bars", nil
}

// buildPDF writes a one-page PDF with one text line per entry.
func buildPDF(t *testing.T, lines []string) []byte {
	t.Helper()
	var content strings.Builder
	content.WriteString("BT /F1 10 Tf 12 TL 20 780 Td\n")
	for _, l := range lines {
		fmt.Fprintf(&content, "(%s) Tj T*\n", l)
	}
	content.WriteString("ET")
	stream := content.String()

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

type zipEntry struct {
	name string
	data []byte
}

func buildZip(t *testing.T, entries []zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("zip create %s: %v", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			t.Fatalf("zip write %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}
