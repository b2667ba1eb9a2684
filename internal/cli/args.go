package cli

import (
	"fmt"
	"strconv"
	"strings"
)

type cliOptions struct {
	limit   int
	email   string
	status  string
	model   string
	verbose bool
}

// parseArgs accepts both --flag=value and --flag value forms.
func parseArgs(args []string) (cliOptions, []string, error) {
	opts := cliOptions{limit: 20}
	positional := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(arg, "--") {
			positional = append(positional, arg)
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if name == "verbose" {
			opts.verbose = !hasValue || value == "true" || value == "1"
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("flag --%s needs a value", name)
			}
			i++
			value = args[i]
		}
		value = strings.TrimSpace(value)
		switch name {
		case "limit":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return opts, nil, fmt.Errorf("--limit must be a positive integer, got %q", value)
			}
			opts.limit = n
		case "email":
			opts.email = value
		case "status":
			opts.status = value
		case "model":
			opts.model = value
		default:
			return opts, nil, fmt.Errorf("unknown flag --%s", name)
		}
	}
	return opts, positional, nil
}

func closeQuietly(closers []func()) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
