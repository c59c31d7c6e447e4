package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer(8)
	require.NoError(t, err)
	return r
}

func TestRenderFormatsMarkdown(t *testing.T) {
	r := newTestRenderer(t)

	out := r.Render("**bold** and ~~gone~~")
	assert.Contains(t, out, "<strong>bold</strong>")
	assert.Contains(t, out, "<del>gone</del>")
}

func TestRenderStripsScripts(t *testing.T) {
	r := newTestRenderer(t)

	out := r.Render("hi <script>alert(1)</script> [x](javascript:alert(1))")
	assert.NotContains(t, out, "<script")
	assert.NotContains(t, out, "javascript:")
}

func TestRenderExternalLinksOpenInNewTab(t *testing.T) {
	r := newTestRenderer(t)

	out := r.Render("see https://example.com")
	assert.Contains(t, out, `href="https://example.com"`)
	assert.Contains(t, out, `target="_blank"`)
	assert.Contains(t, out, "noreferrer")
}

func TestRenderCachesByContent(t *testing.T) {
	r := newTestRenderer(t)

	first := r.Render("same body")
	second := r.Render("same body")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, r.cache.Len())

	assert.Empty(t, r.Render(""))
	assert.Equal(t, 1, r.cache.Len())
}
