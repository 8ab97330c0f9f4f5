// Package keymatch selects cache keys by pattern.
//
// Patterns use glob syntax:
//
//	quote:*        every key directly under "quote:"
//	quote:**       every key below "quote:", at any depth
//	quote:{AAPL,MSFT}
//
// "*" stops at the separators the matcher was built with, "**" does not.
package keymatch

import (
	"fmt"
	"sync"

	"github.com/gobwas/glob"
	"github.com/hashicorp/golang-lru/simplelru"
)

// maxCompiledPatterns bounds the compiled pattern cache.
const maxCompiledPatterns = 256

// Matcher returns the subset of keys matching pattern.
type Matcher interface {
	MatchingKeys(pattern string, keys []string) ([]string, error)
}

// GlobMatcher matches with github.com/gobwas/glob and keeps the most
// recently used compiled patterns around for reuse.
type GlobMatcher struct {
	separators []rune
	mu         sync.Mutex
	compiled   *simplelru.LRU
}

// NewGlobMatcher returns a matcher where "*" does not cross any of the
// separators.
func NewGlobMatcher(separators ...rune) *GlobMatcher {
	compiled, err := simplelru.NewLRU(maxCompiledPatterns, nil)
	if err != nil {
		// only for a non-positive size
		panic(err)
	}
	return &GlobMatcher{separators: separators, compiled: compiled}
}

func (m *GlobMatcher) MatchingKeys(pattern string, keys []string) ([]string, error) {
	g, err := m.compile(pattern)
	if err != nil {
		return nil, err
	}
	var ret []string
	for _, k := range keys {
		if g.Match(k) {
			ret = append(ret, k)
		}
	}
	return ret, nil
}

func (m *GlobMatcher) compile(pattern string) (glob.Glob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.compiled.Get(pattern); ok {
		return g.(glob.Glob), nil
	}
	g, err := glob.Compile(pattern, m.separators...)
	if err != nil {
		return nil, fmt.Errorf("invalid key pattern %q: %w", pattern, err)
	}
	m.compiled.Add(pattern, g)
	return g, nil
}
