package tools

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ChartInstruction does not draw anything. Rendering happens in the
// assistant's Code Interpreter sandbox; this returns the steps to follow and
// how to attach the image through LatestFileSentinel.
func ChartInstruction(args ChartGeneratorArgs) Result {
	if strings.TrimSpace(args.DataCSV) == "" {
		return Failure(ChartGenerator, "", fmt.Errorf("data_csv is empty"))
	}
	chartType := strings.ToLower(strings.TrimSpace(args.ChartType))
	if chartType == "" {
		chartType = "bar"
	}
	title := strings.TrimSpace(args.Title)
	if title == "" {
		title = args.YCol + " by " + args.XCol
	}
	title = cases.Title(language.English).String(title)

	var sb strings.Builder
	sb.WriteString("Render this chart with Code Interpreter:\n")
	fmt.Fprintf(&sb, "1. Load the CSV below with pandas.\n")
	fmt.Fprintf(&sb, "2. Draw a %s chart with matplotlib: x axis %q, y axis %q, title %q.\n", chartType, args.XCol, args.YCol, title)
	sb.WriteString("3. Save it as a PNG image.\n")
	fmt.Fprintf(&sb, "4. To submit it, set the field value to %q in api_request data_json; it is replaced with the image as a base64 PNG data URI.\n\n", LatestFileSentinel)
	sb.WriteString("CSV:\n")
	sb.WriteString(args.DataCSV)
	return OK(Truncate(sb.String(), MaxToolOutputChars))
}
