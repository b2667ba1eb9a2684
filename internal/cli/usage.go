package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/PipeOpsHQ/quiz-agent/tools"
)

func printUsage(w io.Writer) {
	names := make([]string, 0, len(tools.Names()))
	for _, n := range tools.Names() {
		names = append(names, string(n))
	}
	fmt.Fprintln(w, "quiz-agent: solves data quizzes through an assistants run")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  quiz-agent serve                         start the HTTP endpoint")
	fmt.Fprintln(w, "  quiz-agent solve [--model=M] <quiz-url>  solve one quiz with USER_EMAIL/USER_SECRET")
	fmt.Fprintln(w, "  quiz-agent mcp                           serve the tools over MCP stdio")
	fmt.Fprintln(w, "  quiz-agent runs [--limit N] [--email=E] [--status=S]")
	fmt.Fprintln(w, "  quiz-agent tools                         print tool schemas")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment Variables:")
	fmt.Fprintln(w, "  OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_FILES_BASE_URL, OPENAI_MODEL")
	fmt.Fprintln(w, "  VISION_BACKEND (openai|gemini), GEMINI_API_KEY")
	fmt.Fprintln(w, "  USER_EMAIL, USER_SECRET, HTTP_ADDR, RATE_PER_MINUTE, SOLVE_TIMEOUT")
	fmt.Fprintln(w, "  STATE_BACKEND (sqlite|redis|none), SQLITE_PATH, REDIS_ADDR, TRACE_DB_PATH, OTEL_ENABLED")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  available tools: %s\n", strings.Join(names, ", "))
}
