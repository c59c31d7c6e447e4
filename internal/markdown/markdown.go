// Package markdown renders user-authored comment bodies to sanitized HTML.
package markdown

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"html"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

const DefaultCacheSize = 2048

// Renderer converts GitHub-flavoured markdown to HTML and strips anything the
// UGC policy does not allow. Results are cached by content hash.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
	cache  *lru.Cache[string, string]
}

func NewRenderer(cacheSize int) (*Renderer, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}

	policy := bluemonday.UGCPolicy()
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	policy.RequireNoReferrerOnLinks(true)

	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
		policy: policy,
		cache:  cache,
	}, nil
}

// Render returns sanitized HTML for source. An empty source renders to "".
func (r *Renderer) Render(source string) string {
	if source == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(source))
	key := hex.EncodeToString(sum[:])
	if cached, ok := r.cache.Get(key); ok {
		return cached
	}

	var buf bytes.Buffer
	var out string
	if err := r.md.Convert([]byte(source), &buf); err != nil {
		out = "<p>" + html.EscapeString(source) + "</p>"
	} else {
		out = r.policy.Sanitize(buf.String())
	}
	r.cache.Add(key, out)
	return out
}
