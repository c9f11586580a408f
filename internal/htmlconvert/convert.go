// Package htmlconvert renders HTML message bodies down to plain text for
// terminal display. It prefers an external filter (lynx/elinks/links
// -dump, or whatever html_convert_cmd names) and falls back to an
// in-process sanitize-and-extract pass when none is configured or the
// external command fails.
package htmlconvert

import (
	"bytes"
	"os/exec"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// DefaultConvertCmd probes PATH for lynx, elinks, then links (in that
// order, mirroring the original's `which lynx elinks links | head -1`)
// and returns "<path> -dump", or "" if none are installed.
func DefaultConvertCmd() string {
	for _, bin := range []string{"lynx", "elinks", "links"} {
		if path, err := exec.LookPath(bin); err == nil {
			return path + " -dump"
		}
	}
	return ""
}

// Convert renders htmlBody as plain text. cmd, if non-empty, is run as
// "<cmd> <args...>" with htmlBody on stdin; its stdout is returned. On a
// failure to run cmd, or when cmd is empty, the bundled converter is used
// instead.
func Convert(htmlBody, cmd string) string {
	if cmd != "" {
		if out, err := runExternal(cmd, htmlBody); err == nil {
			return out
		}
	}
	return convertInProcess(htmlBody)
}

func runExternal(cmd, htmlBody string) (string, error) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", exec.ErrNotFound
	}
	c := exec.Command(fields[0], fields[1:]...)
	c.Stdin = strings.NewReader(htmlBody)
	var out bytes.Buffer
	c.Stdout = &out
	if err := c.Run(); err != nil {
		return "", err
	}
	return out.String(), nil
}

// blockElements end a line of output when their content is done; this is
// a rough terminal-rendering approximation of block-level layout, not a
// full HTML renderer.
var blockElements = map[string]struct{}{
	"p": {}, "div": {}, "br": {}, "li": {}, "tr": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"blockquote": {}, "pre": {}, "table": {},
}

func convertInProcess(htmlBody string) string {
	sanitized := bluemonday.UGCPolicy().Sanitize(htmlBody)

	doc, err := html.Parse(strings.NewReader(sanitized))
	if err != nil {
		return sanitized
	}

	var buf bytes.Buffer
	extractText(doc, &buf)
	return normalizeBlankLines(buf.String())
}

func extractText(n *html.Node, buf *bytes.Buffer) {
	if n.Type == html.TextNode {
		buf.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, buf)
	}
	if n.Type == html.ElementNode {
		if _, ok := blockElements[n.Data]; ok {
			buf.WriteString("\n")
		}
	}
}

func normalizeBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t\r")
		if trimmed == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
