package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// fillerCategoryToolExecution is the only filler category currently used;
// kept as a named constant so a caller-supplied cache key stays
// self-documenting.
const fillerCategoryToolExecution = "tool_execution"

// FillerCache holds pre-recorded filler audio buffers keyed by
// (language, category).
type FillerCache struct {
	mu  sync.RWMutex
	buf map[string][]byte
}

// NewFillerCache returns an empty cache.
func NewFillerCache() *FillerCache {
	return &FillerCache{buf: make(map[string][]byte)}
}

// Put registers a filler buffer for (language, category).
func (c *FillerCache) Put(language, category string, audio []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf[language+"|"+category] = audio
}

func (c *FillerCache) get(language, category string) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buf[language+"|"+category]
}

// FillerPlayer plays a short utterance masking tool-execution latency.
// Called synchronously the instant a tool-call event arrives,
// before the tool executes; never blocks on tool execution and never
// returns an error — worst case it plays nothing.
type FillerPlayer struct {
	cache *FillerCache
	tts   TTSProvider
	voice string

	// sf collapses concurrent cache misses for the same (language,
	// category) filler into a single synthesis call, since independent
	// sessions sharing a FillerPlayer can hit a cold cache at the same
	// moment.
	sf singleflight.Group
}

// NewFillerPlayer constructs a player backed by cache (may be nil) and an
// optional one-shot TTS provider for synchronous synthesis fallback.
func NewFillerPlayer(cache *FillerCache, tts TTSProvider, voice string) *FillerPlayer {
	return &FillerPlayer{cache: cache, tts: tts, voice: voice}
}

// Play selects a filler by (language, tool_execution) preference order —
// cached buffer, then one-shot synthesis, then silence — and emits it via
// onAudioChunk. A cache hit returns at once; a cache miss waits for the
// one-shot synthesis before returning.
func (f *FillerPlayer) Play(ctx context.Context, language, fillerText string, onAudioChunk func([]byte)) {
	if f.cache != nil {
		if buf := f.cache.get(language, fillerCategoryToolExecution); len(buf) > 0 {
			onAudioChunk(buf)
			return
		}
	}
	if f.tts != nil && fillerText != "" {
		key := language + "|" + fillerCategoryToolExecution
		v, err, _ := f.sf.Do(key, func() (any, error) {
			buf, err := f.tts.Synthesize(ctx, fillerText, f.voice, language)
			if err == nil && len(buf) > 0 && f.cache != nil {
				f.cache.Put(language, fillerCategoryToolExecution, buf)
			}
			return buf, err
		})
		if err == nil {
			if buf, ok := v.([]byte); ok && len(buf) > 0 {
				onAudioChunk(buf)
				return
			}
		}
	}
	// Silence: skip, never an error.
}
