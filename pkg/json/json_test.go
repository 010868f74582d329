package json

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalRoundTrip(t *testing.T) {
	in := map[string]interface{}{"table": "main.default.events", "rows": float64(3)}
	data, err := Marshal(in)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestNewEncoder_NoHTMLEscape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode("a<b>&c"))
	assert.Equal(t, "\"a<b>&c\"\n", buf.String())
}

func TestLinesEncoder(t *testing.T) {
	var buf bytes.Buffer
	le := NewLinesEncoder(&buf)
	require.NoError(t, le.Encode([]interface{}{int64(1), "a"}))
	require.NoError(t, le.Encode([]interface{}{int64(2), nil}))

	assert.Equal(t, 2, le.Count())
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{`[1,"a"]`, `[2,null]`}, lines)
}
