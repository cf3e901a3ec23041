package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

// openInput returns the line source for a command: the named file, or
// stdin when no argument (or "-") is given.
func openInput(args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	return f, nil
}

// lineStream turns non-empty input lines into scheduler tasks, lazily,
// so arbitrarily long ID lists never sit in memory at once. Blank lines
// and '#' comments are skipped.
func lineStream(r io.Reader, kind string, run func(ctx context.Context, line string) error) crawler.TaskStream {
	scanner := bufio.NewScanner(r)
	return func() (crawler.Task, bool) {
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			return crawler.Task{
				Name: kind + " " + line,
				Run: func(ctx context.Context) error {
					return run(ctx, line)
				},
			}, true
		}
		return crawler.Task{}, false
	}
}

// parseDate parses a YYYY-MM-DD flag value. Empty means unset.
func parseDate(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --%s: %w", flag, err)
	}
	return t, nil
}
