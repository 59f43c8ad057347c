package ai

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenCounter estimates token counts for metrics. It falls back to a word
// count when the BPE tables cannot be loaded.
type tokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

var defaultCounter = &tokenCounter{}

func (c *tokenCounter) load() {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err == nil {
		c.enc = enc
	}
}

func (c *tokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(c.load)
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return len(strings.Fields(text))
}
