package tools

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/PipeOpsHQ/quiz-agent/types"
)

// Toolset dispatches decoded calls to the extractor.
type Toolset struct {
	ex *Extractor
}

func NewToolset(ex *Extractor) *Toolset {
	if ex == nil {
		ex = NewExtractor()
	}
	return &Toolset{ex: ex}
}

func (t *Toolset) Extractor() *Extractor { return t.ex }

// Execute runs one call. A panic inside a tool becomes that call's error
// result.
func (t *Toolset) Execute(ctx context.Context, call Call) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			t.ex.logger.Error("tool panicked", "tool", call.ToolName(), "panic", r, "stack", string(debug.Stack()))
			res = Failure(call.ToolName(), "", fmt.Errorf("panic: %v", r))
		}
	}()

	switch c := call.(type) {
	case WebScraperArgs:
		return t.ex.Scrape(ctx, c.URL, c.Format)
	case WebDownloaderArgs:
		return t.ex.Download(ctx, c.URL)
	case PDFScraperArgs:
		return t.ex.PDFText(ctx, c.URL)
	case AudioTranscriberArgs:
		return t.ex.Transcribe(ctx, c.URL)
	case APIRequestArgs:
		return t.ex.Request(ctx, c)
	case ExcelParserArgs:
		return t.ex.Spreadsheet(ctx, c.URL)
	case ImageOCRArgs:
		return t.ex.OCR(ctx, c.URL, c.Question)
	case ImageAnalyzerArgs:
		return t.ex.Analyze(ctx, c.URL, c.Question)
	case TableExtractorArgs:
		return t.ex.Tables(ctx, c.URL)
	case ZipExtractorArgs:
		return t.ex.ZipListing(ctx, c.URL)
	case JSONQueryArgs:
		return t.ex.JSONQueryResult(ctx, c.URL, c.JSONPath)
	case ChartGeneratorArgs:
		return ChartInstruction(c)
	default:
		return Result{Err: fmt.Errorf("%w: %T", ErrUnknownTool, call)}
	}
}

// Run decodes and executes a raw tool call.
func (t *Toolset) Run(ctx context.Context, call types.ToolCall) Result {
	c, err := Decode(call)
	if err != nil {
		return Result{Err: err}
	}
	return t.Execute(ctx, c)
}
