package runner

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinay4appsentinels/as-mcp-cli/internal/mcp"
)

func decodeResult(t *testing.T, raw string) *mcp.ToolResult {
	t.Helper()
	result := &mcp.ToolResult{Raw: json.RawMessage(raw)}
	require.NoError(t, json.Unmarshal([]byte(raw), result))
	return result
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "JSON text is indented",
			raw:  `{"content": [{"type": "text", "text": "{\"tenants\":[\"a\",\"b\"]}"}]}`,
			want: "{\n  \"tenants\": [\n    \"a\",\n    \"b\"\n  ]\n}\n",
		},
		{
			name: "plain text is written raw",
			raw:  `{"content": [{"type": "text", "text": "3 tenants found"}]}`,
			want: "3 tenants found\n",
		},
		{
			name: "multiple text blocks",
			raw:  `{"content": [{"type": "text", "text": "first"}, {"type": "text", "text": "[1,2]"}]}`,
			want: "first\n[\n  1,\n  2\n]\n",
		},
		{
			name: "no text content prints the result",
			raw:  `{"content": [{"type": "image", "data": "AA=="}]}`,
			want: "{\n  \"content\": [\n    {\n      \"type\": \"image\",\n      \"data\": \"AA==\"\n    }\n  ]\n}\n",
		},
		{
			name: "bare number text stays raw",
			raw:  `{"content": [{"type": "text", "text": "42"}]}`,
			want: "42\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, Render(&out, decodeResult(t, tt.raw)))
			assert.Equal(t, tt.want, out.String())
		})
	}
}
