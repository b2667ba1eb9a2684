package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/PipeOpsHQ/quiz-agent/llm"
)

const DefaultImageQuestion = "Describe this image in detail, including any text, numbers, or data it contains."

const ocrQuestion = "Transcribe all text, numbers, and table values visible in this image exactly as they appear."

// Transcribe fetches an audio file, stages it in a temp file and returns the
// speech-to-text transcript. The temp file is always removed.
func (e *Extractor) Transcribe(ctx context.Context, rawURL string) Result {
	if e.transcriber == nil {
		return Failure(AudioTranscriber, rawURL, fmt.Errorf("transcription is not configured"))
	}
	f, err := e.fetch(ctx, rawURL)
	if err != nil {
		return Failure(AudioTranscriber, rawURL, err)
	}

	ext, mediaType := ".mp3", "audio/mpeg"
	if extensionOf(rawURL) == ".opus" {
		ext, mediaType = ".ogg", "audio/ogg"
	}

	tmp, err := os.CreateTemp(e.tempDir, "audio-*"+ext)
	if err != nil {
		return Failure(AudioTranscriber, rawURL, fmt.Errorf("create temp file: %w", err))
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()
	if _, err := io.Copy(tmp, bytes.NewReader(f.Body)); err != nil {
		return Failure(AudioTranscriber, rawURL, fmt.Errorf("write temp file: %w", err))
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return Failure(AudioTranscriber, rawURL, fmt.Errorf("rewind temp file: %w", err))
	}

	text, err := e.transcriber.Transcribe(ctx, filepath.Base(tmp.Name()), mediaType, tmp)
	if err != nil {
		return Failure(AudioTranscriber, rawURL, err)
	}
	return OK(text)
}

// Analyze sends an image to the vision backend with question, or with
// DefaultImageQuestion when question is empty.
func (e *Extractor) Analyze(ctx context.Context, rawURL, question string) Result {
	return e.analyze(ctx, ImageAnalyzer, rawURL, question, DefaultImageQuestion)
}

// OCR is Analyze with a transcription-oriented default question.
func (e *Extractor) OCR(ctx context.Context, rawURL, question string) Result {
	return e.analyze(ctx, ImageOCR, rawURL, question, ocrQuestion)
}

func (e *Extractor) analyze(ctx context.Context, op Name, rawURL, question, fallback string) Result {
	if e.vision == nil {
		return Failure(op, rawURL, fmt.Errorf("vision backend is not configured"))
	}
	f, err := e.fetch(ctx, rawURL)
	if err != nil {
		return Failure(op, rawURL, err)
	}
	if strings.TrimSpace(question) == "" {
		question = fallback
	}
	answer, err := e.vision.DescribeImage(ctx, llm.ImageInput{
		Data:      f.Body,
		MediaType: imageMediaType(f.ContentType, extensionOf(rawURL)),
		Question:  question,
	})
	if err != nil {
		return Failure(op, rawURL, err)
	}
	return OK(answer)
}

// imageMediaType picks jpeg, png, gif or webp from the response header, then
// the URL extension, defaulting to png.
func imageMediaType(contentType, ext string) string {
	ct := strings.ToLower(contentType)
	for _, sub := range []string{"jpeg", "png", "gif", "webp"} {
		if strings.Contains(ct, "image/"+sub) {
			return "image/" + sub
		}
	}
	if strings.Contains(ct, "image/jpg") {
		return "image/jpeg"
	}
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	return "image/png"
}
