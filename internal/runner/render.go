package runner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/vinay4appsentinels/as-mcp-cli/internal/mcp"
)

// Render writes a command result for a terminal. Each text block is
// pretty-printed when it holds JSON and written raw otherwise. A result
// without text blocks is written as indented JSON.
func Render(w io.Writer, result *mcp.ToolResult) error {
	var texts []string
	for _, block := range result.Content {
		if text, ok := block.Text(); ok {
			texts = append(texts, text)
		}
	}

	if len(texts) == 0 {
		return writeIndented(w, result.Raw)
	}

	for _, text := range texts {
		if err := writeText(w, text); err != nil {
			return err
		}
	}
	return nil
}

func writeText(w io.Writer, text string) error {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) && (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) {
		return writeIndented(w, []byte(trimmed))
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

func writeIndented(w io.Writer, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return fmt.Errorf("format result: %w", err)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
