package replycache

import (
	"context"
	"strings"
	"sync"
	"time"

	mw "relay/internal/middleware"
)

type entry struct {
	reply  string
	stored time.Time
}

// ReplyCache answers a repeated prompt from memory instead of the backend.
// Only replies produced without tool rounds are cached, since tool output
// can change between calls.
type ReplyCache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

func New(ttl time.Duration, maxEntries int) *ReplyCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &ReplyCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]entry),
	}
}

func (c *ReplyCache) ID() string { return "reply_cache" }

// Priority runs after the token budget so a cancel here still sees final params.
func (c *ReplyCache) Priority() int { return 80 }

func (c *ReplyCache) ShouldLoad(_ context.Context, e *mw.Event) bool {
	if v, ok := e.Context["reply_cache"].(bool); ok {
		return v
	}
	return true
}

func (c *ReplyCache) OnEvent(_ context.Context, e *mw.Event) (mw.Decision, error) {
	key := cacheKey(e)
	if key == "" {
		return mw.Decision{}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Name {
	case mw.EventBeforeLLMRequest:
		hit, ok := c.entries[key]
		if !ok {
			return mw.Decision{}, nil
		}
		if c.now().Sub(hit.stored) >= c.ttl {
			delete(c.entries, key)
			return mw.Decision{}, nil
		}
		reply := hit.reply
		return mw.Decision{Cancel: true, ReplaceText: &reply, Reason: "served from reply cache"}, nil

	case mw.EventAfterLLMResponse:
		if e.Iteration > 0 || strings.TrimSpace(e.LLMText) == "" {
			return mw.Decision{}, nil
		}
		if len(c.entries) >= c.maxEntries {
			c.evictOldest()
		}
		c.entries[key] = entry{reply: e.LLMText, stored: c.now()}
	}
	return mw.Decision{}, nil
}

func (c *ReplyCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, v := range c.entries {
		if oldestKey == "" || v.stored.Before(oldest) {
			oldestKey, oldest = k, v.stored
		}
	}
	delete(c.entries, oldestKey)
}

// cacheKey scopes the prompt by model so a model switch misses.
func cacheKey(e *mw.Event) string {
	text := strings.TrimSpace(e.UserText)
	if text == "" {
		return ""
	}
	model := ""
	if e.Params != nil {
		model = e.Params.Model
	}
	return model + "\x00" + text
}
