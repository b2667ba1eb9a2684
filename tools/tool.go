package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	"github.com/PipeOpsHQ/quiz-agent/types"
)

// Name identifies one tool of the closed set offered to the assistant.
type Name string

const (
	WebScraper       Name = "web_scraper"
	WebDownloader    Name = "web_downloader"
	PDFScraper       Name = "pdf_scraper"
	AudioTranscriber Name = "audio_transcriber"
	APIRequest       Name = "api_request"
	ExcelParser      Name = "excel_parser"
	ImageOCR         Name = "image_ocr"
	ImageAnalyzer    Name = "image_analyzer"
	TableExtractor   Name = "table_extractor"
	ZipExtractor     Name = "zip_extractor"
	JSONQuery        Name = "json_query"
	ChartGenerator   Name = "chart_generator"
)

// LatestFileSentinel in a POST payload value is replaced with the newest
// image the assistant generated on the thread.
const LatestFileSentinel = "__LATEST_FILE__"

var ErrUnknownTool = errors.New("unknown tool")

// Call is a decoded tool call. The set of implementations is closed; every
// one is handled by Toolset.Execute.
type Call interface {
	ToolName() Name
	sealed()
}

type WebScraperArgs struct {
	URL    string `json:"url" jsonschema:"description=Page URL to render"`
	Format string `json:"format,omitempty" jsonschema:"enum=html,enum=markdown,description=Output format (default html)"`
}

type URLArgs struct {
	URL string `json:"url" jsonschema:"description=Resource URL"`
}

type WebDownloaderArgs URLArgs
type PDFScraperArgs URLArgs
type AudioTranscriberArgs URLArgs
type ExcelParserArgs URLArgs
type TableExtractorArgs URLArgs
type ZipExtractorArgs URLArgs

type APIRequestArgs struct {
	URL      string `json:"url" jsonschema:"description=Endpoint URL"`
	Method   string `json:"method" jsonschema:"enum=GET,enum=POST"`
	DataJSON string `json:"data_json,omitempty" jsonschema:"description=JSON object sent as the POST body"`
}

type ImageAnalyzerArgs struct {
	URL      string `json:"url" jsonschema:"description=Image URL"`
	Question string `json:"question,omitempty" jsonschema:"description=What to look for in the image"`
}

type ImageOCRArgs ImageAnalyzerArgs

type JSONQueryArgs struct {
	URL      string `json:"url" jsonschema:"description=URL of a JSON document"`
	JSONPath string `json:"jsonpath" jsonschema:"description=JSONPath expression such as $.items[*].price"`
}

type ChartGeneratorArgs struct {
	DataCSV   string `json:"data_csv" jsonschema:"description=CSV data with a header row"`
	ChartType string `json:"chart_type" jsonschema:"description=bar or line or scatter or pie"`
	XCol      string `json:"x_col" jsonschema:"description=Column for the x axis"`
	YCol      string `json:"y_col" jsonschema:"description=Column for the y axis"`
	Title     string `json:"title,omitempty" jsonschema:"description=Chart title"`
}

func (WebScraperArgs) ToolName() Name       { return WebScraper }
func (WebDownloaderArgs) ToolName() Name    { return WebDownloader }
func (PDFScraperArgs) ToolName() Name       { return PDFScraper }
func (AudioTranscriberArgs) ToolName() Name { return AudioTranscriber }
func (APIRequestArgs) ToolName() Name       { return APIRequest }
func (ExcelParserArgs) ToolName() Name      { return ExcelParser }
func (ImageOCRArgs) ToolName() Name         { return ImageOCR }
func (ImageAnalyzerArgs) ToolName() Name    { return ImageAnalyzer }
func (TableExtractorArgs) ToolName() Name   { return TableExtractor }
func (ZipExtractorArgs) ToolName() Name     { return ZipExtractor }
func (JSONQueryArgs) ToolName() Name        { return JSONQuery }
func (ChartGeneratorArgs) ToolName() Name   { return ChartGenerator }

func (WebScraperArgs) sealed()       {}
func (WebDownloaderArgs) sealed()    {}
func (PDFScraperArgs) sealed()       {}
func (AudioTranscriberArgs) sealed() {}
func (APIRequestArgs) sealed()       {}
func (ExcelParserArgs) sealed()      {}
func (ImageOCRArgs) sealed()         {}
func (ImageAnalyzerArgs) sealed()    {}
func (TableExtractorArgs) sealed()   {}
func (ZipExtractorArgs) sealed()     {}
func (JSONQueryArgs) sealed()        {}
func (ChartGeneratorArgs) sealed()   {}

// Payload decodes DataJSON as a JSON object. An empty body is an empty object.
func (a APIRequestArgs) Payload() (map[string]any, error) {
	payload := map[string]any{}
	if strings.TrimSpace(a.DataJSON) == "" {
		return payload, nil
	}
	if err := json.Unmarshal([]byte(a.DataJSON), &payload); err != nil {
		return nil, fmt.Errorf("data_json is not a JSON object: %w", err)
	}
	return payload, nil
}

// WithPayload returns a copy of a carrying payload as its body.
func (a APIRequestArgs) WithPayload(payload map[string]any) (APIRequestArgs, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return a, fmt.Errorf("encode data_json: %w", err)
	}
	a.DataJSON = string(raw)
	return a, nil
}

type entry struct {
	name        Name
	description string
	decode      func(json.RawMessage) (Call, error)
	schema      map[string]any
}

func decodeAs[T Call](raw json.RawMessage) (Call, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func newEntry[T Call](description string) *entry {
	var zero T
	return &entry{
		name:        zero.ToolName(),
		description: description,
		decode:      decodeAs[T],
		schema:      reflectSchema(zero),
	}
}

var catalog = []*entry{
	newEntry[WebScraperArgs]("Scrapes a website page. Handles JavaScript. Returns rendered HTML or Markdown."),
	newEntry[WebDownloaderArgs]("Downloads a file. CSV/JSON/text return raw content; binaries are uploaded for Code Interpreter."),
	newEntry[PDFScraperArgs]("Downloads a PDF and extracts the text content directly. Use this for all PDF links."),
	newEntry[AudioTranscriberArgs]("Downloads an audio file and returns the transcribed text."),
	newEntry[APIRequestArgs]("Makes a standard HTTP request (GET/POST). In data_json set a value to '__LATEST_FILE__' to attach the latest generated chart."),
	newEntry[ExcelParserArgs]("Uploads an Excel workbook for analysis with pandas in Code Interpreter."),
	newEntry[ImageOCRArgs]("Reads the text and numbers in an image."),
	newEntry[ImageAnalyzerArgs]("Answers a question about an image with a vision model."),
	newEntry[TableExtractorArgs]("Renders a page and returns only its HTML tables."),
	newEntry[ZipExtractorArgs]("Downloads a ZIP archive and returns its listing with text files inlined."),
	newEntry[JSONQueryArgs]("Downloads JSON and returns the subset selected by a JSONPath expression."),
	newEntry[ChartGeneratorArgs]("Prepares chart instructions for Code Interpreter."),
}

var byName = func() map[Name]*entry {
	m := make(map[Name]*entry, len(catalog))
	for _, e := range catalog {
		m[e.name] = e
	}
	return m
}()

func reflectSchema(v any) map[string]any {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	raw, err := json.Marshal(r.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("reflect schema for %T: %v", v, err))
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		panic(fmt.Sprintf("decode schema for %T: %v", v, err))
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	return schema
}

// Names lists the tool set in registration order.
func Names() []Name {
	out := make([]Name, 0, len(catalog))
	for _, e := range catalog {
		out = append(out, e.name)
	}
	return out
}

// Definitions returns the function schemas registered with the assistant.
func Definitions() []types.ToolDefinition {
	out := make([]types.ToolDefinition, 0, len(catalog))
	for _, e := range catalog {
		out = append(out, Definition(e.name))
	}
	return out
}

func Definition(name Name) types.ToolDefinition {
	e, ok := byName[name]
	if !ok {
		return types.ToolDefinition{}
	}
	return types.ToolDefinition{
		Name:        string(e.name),
		Description: e.description,
		JSONSchema:  cloneSchema(e.schema),
	}
}

func cloneSchema(in map[string]any) map[string]any {
	raw, _ := json.Marshal(in)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}

// Decode validates the call arguments against the tool schema and returns
// the typed call.
func Decode(call types.ToolCall) (Call, error) {
	e, ok := byName[Name(call.Name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}
	args := call.Arguments
	if len(strings.TrimSpace(string(args))) == 0 {
		args = json.RawMessage(`{}`)
	}

	res, err := gojsonschema.Validate(gojsonschema.NewGoLoader(e.schema), gojsonschema.NewBytesLoader(args))
	if err != nil {
		return nil, fmt.Errorf("invalid %s arguments: %w", e.name, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, verr := range res.Errors() {
			msgs = append(msgs, verr.String())
		}
		return nil, fmt.Errorf("invalid %s arguments: %s", e.name, strings.Join(msgs, "; "))
	}

	c, err := e.decode(args)
	if err != nil {
		return nil, fmt.Errorf("invalid %s arguments: %w", e.name, err)
	}
	return c, nil
}
