package querygatectl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
)

// LineReader is the part of a readline instance the shell needs.
type LineReader interface {
	Readline() (string, error)
}

type terminal struct {
	*readline.Instance
}

func newTerminal(baseURL string) (*terminal, error) {
	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".querygate_history")
	}
	instance, err := readline.NewEx(&readline.Config{
		Prompt:            fmt.Sprintf("%s> ", strings.TrimPrefix(strings.TrimPrefix(baseURL, "http://"), "https://")),
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "bye!",
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, err
	}
	return &terminal{Instance: instance}, nil
}

const shellHelp = `\h          help
\v <sql>    validate a statement
\g          print the grammar
\d          describe the schema
\q          quit
<text>      ask a question`

// runShell treats every plain line as a natural language request. Failed requests are
// printed and the loop continues.
func runShell(ctx context.Context, c *client, lines LineReader) int {
	_, _ = fmt.Fprintln(c.stdout, `QueryGate shell, \h for help`)
	for {
		if ctx.Err() != nil {
			return 0
		}
		line, err := lines.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return 0
		}
		if err != nil {
			_, _ = fmt.Fprintf(c.stderr, "read input: %v\n", err)
			return 1
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == `\q`:
			return 0
		case line == `\h`:
			_, _ = fmt.Fprintln(c.stdout, shellHelp)
		case line == `\g`:
			c.do(ctx, call{method: http.MethodGet, path: "/v1/grammar"})
		case line == `\d`:
			c.do(ctx, call{method: http.MethodGet, path: "/v1/schema"})
		case strings.HasPrefix(line, `\v`):
			c.do(ctx, call{method: http.MethodPost, path: "/v1/validate", body: map[string]string{"query": strings.TrimSpace(strings.TrimPrefix(line, `\v`))}})
		case strings.HasPrefix(line, `\`):
			_, _ = fmt.Fprintf(c.stderr, "unknown shell command %q\n", line)
		default:
			c.do(ctx, call{method: http.MethodPost, path: "/v1/query", body: map[string]string{"natural_language_query": line}})
		}
	}
}
