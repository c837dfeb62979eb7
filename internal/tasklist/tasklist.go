// Package tasklist reads the plain-text task-list file format: one
// resource per line, either "URL" or "URL|HEX_DIGEST", blank lines and
// "#"-prefixed comments skipped. No direct analogue exists in the teacher
// repo; written fresh in its idiom (small stdlib-only parser, explicit
// line-numbered errors).
package tasklist

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gridfetch/internal/model"
)

// ParseLine parses a single task-list line into a DownloadItem. Destination
// is derived from the URL's final path segment.
func ParseLine(line string) (model.DownloadItem, error) {
	parts := strings.Split(line, "|")
	if len(parts) > 2 {
		return model.DownloadItem{}, fmt.Errorf("too many '|' separators in line %q", line)
	}

	rawURL := strings.TrimSpace(parts[0])
	if rawURL == "" {
		return model.DownloadItem{}, fmt.Errorf("empty URL in line %q", line)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return model.DownloadItem{}, fmt.Errorf("invalid URL %q", rawURL)
	}

	digest := ""
	if len(parts) == 2 {
		digest = strings.TrimSpace(parts[1])
		if digest == "" {
			return model.DownloadItem{}, fmt.Errorf("empty digest after '|' in line %q", line)
		}
	}

	dest := filepath.Base(parsed.Path)
	if dest == "" || dest == "." || dest == "/" {
		return model.DownloadItem{}, fmt.Errorf("cannot derive destination filename from URL %q", rawURL)
	}

	return model.DownloadItem{URL: rawURL, Destination: dest, ExpectedDigest: digest}, nil
}

// Read parses every line of r into DownloadItems, skipping blank lines and
// "#" comments. A malformed line is reported with its 1-based line number
// and aborts the read — a task list is operator input, not network data,
// so failing loudly beats silently dropping a line.
func Read(r io.Reader) ([]model.DownloadItem, error) {
	var items []model.DownloadItem
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		item, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read task list: %w", err)
	}
	return items, nil
}

// ReadFile opens path and parses it via Read.
func ReadFile(path string) ([]model.DownloadItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open task list %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}
