// Package templates implements the prompt template engine: a small Jinja
// subset with variable substitution, conditionals and loops, plus static
// extraction of the input-variable schema from the template source.
package templates

import (
	"regexp"
	"sync"

	"github.com/anotherai-dev/anotherai/pkg/models"
)

// templateMarker is the cheap prefilter: text without delimiters is never
// treated as a template.
var templateMarker = regexp.MustCompile(`\{\{|\{%`)

// IsTemplate reports whether the text contains template delimiters.
func IsTemplate(s string) bool {
	return templateMarker.MatchString(s)
}

// compiledCacheSize bounds the parse cache. Prompts are few and hot; ten
// entries covers every agent version in flight.
const compiledCacheSize = 10

var cache = &templateCache{entries: map[string]*Template{}}

type templateCache struct {
	mu      sync.Mutex
	entries map[string]*Template
	order   []string // least recently used first
}

func (c *templateCache) get(key string) (*Template, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.entries[key]
	if ok {
		c.touch(key)
	}
	return t, ok
}

func (c *templateCache) put(key string, t *Template) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		c.touch(key)
		return
	}
	c.entries[key] = t
	c.order = append(c.order, key)
	if len(c.order) > compiledCacheSize {
		evict := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, evict)
	}
}

func (c *templateCache) touch(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(append(c.order[:i:i], c.order[i+1:]...), key)
			return
		}
	}
}

// Compile parses the source, consulting the process-wide cache keyed by
// content hash.
func Compile(source string) (*Template, error) {
	key := models.HashContent(source)
	if t, ok := cache.get(key); ok {
		return t, nil
	}
	t, err := Parse(source)
	if err != nil {
		return nil, err
	}
	cache.put(key, t)
	return t, nil
}

// Render compiles (through the cache) and renders in one step. Text without
// delimiters passes through untouched.
func Render(source string, variables map[string]any) (string, error) {
	if !IsTemplate(source) {
		return source, nil
	}
	t, err := Compile(source)
	if err != nil {
		return "", err
	}
	return t.Render(variables)
}
