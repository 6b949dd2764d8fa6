package streaming

import (
	"strings"

	"github.com/anotherai-dev/anotherai/pkg/models"
)

const (
	thinkOpenTag  = "<think>"
	thinkCloseTag = "</think>"
)

// ThinkStrippingContext wraps an aggregator for models that emit reasoning
// inline as <think> blocks in the text stream. Tag content is rerouted to the
// reasoning channel; tags split across chunk boundaries are held back until
// they resolve.
type ThinkStrippingContext struct {
	inner *Context

	inThink bool
	pending string
}

// NewThinkStripping builds the stripping aggregator.
func NewThinkStripping(providerName, model string) *ThinkStrippingContext {
	return &ThinkStrippingContext{inner: New(providerName, model)}
}

func (c *ThinkStrippingContext) Add(parsed *models.ParsedResponse) *models.RunnerOutputChunk {
	if parsed == nil {
		return nil
	}
	if parsed.Delta == "" && c.pending == "" {
		return c.inner.Add(parsed)
	}
	text, reasoning := c.consume(c.pending + parsed.Delta)
	split := *parsed
	split.Delta = text
	split.Reasoning = parsed.Reasoning + reasoning
	return c.inner.Add(&split)
}

// consume splits buffered text into visible text and think-block reasoning,
// stashing any trailing partial tag in pending.
func (c *ThinkStrippingContext) consume(s string) (text, reasoning string) {
	c.pending = ""
	var out, thought strings.Builder
	for s != "" {
		if c.inThink {
			if i := strings.Index(s, thinkCloseTag); i >= 0 {
				thought.WriteString(s[:i])
				s = s[i+len(thinkCloseTag):]
				c.inThink = false
				continue
			}
			if n := partialTagSuffix(s, thinkCloseTag); n > 0 {
				thought.WriteString(s[:len(s)-n])
				c.pending = s[len(s)-n:]
			} else {
				thought.WriteString(s)
			}
			break
		}
		if i := strings.Index(s, thinkOpenTag); i >= 0 {
			out.WriteString(s[:i])
			s = s[i+len(thinkOpenTag):]
			c.inThink = true
			continue
		}
		if n := partialTagSuffix(s, thinkOpenTag); n > 0 {
			out.WriteString(s[:len(s)-n])
			c.pending = s[len(s)-n:]
		} else {
			out.WriteString(s)
		}
		break
	}
	return out.String(), thought.String()
}

// partialTagSuffix returns the length of the longest strict prefix of tag
// that ends s, 0 when none.
func partialTagSuffix(s, tag string) int {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}

func (c *ThinkStrippingContext) Complete() (*models.Message, error) {
	if c.pending != "" {
		// An unresolved partial tag is plain text after all.
		flush := &models.ParsedResponse{}
		if c.inThink {
			flush.Reasoning = c.pending
		} else {
			flush.Delta = c.pending
		}
		c.pending = ""
		c.inner.Add(flush)
	}
	return c.inner.Complete()
}

func (c *ThinkStrippingContext) Usage() *models.LLMUsage { return c.inner.Usage() }

func (c *ThinkStrippingContext) FinishReason() models.FinishReason { return c.inner.FinishReason() }
