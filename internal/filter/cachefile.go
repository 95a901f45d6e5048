// Package filter implements file-backed admission filtering: a ban list
// with time-limited entries, an allow list and a user-agent deny list.
// Each backing file reloads when its modification time changes.
package filter

import (
	"bufio"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	// staleAfter is how long past expiry an entry may linger before a
	// lookup that walks past it removes it.
	staleAfter = 60
	// banExtension keeps an actively matching ban alive: a match whose
	// expiry falls within this window of now is pushed out to now plus
	// the window.
	banExtension = 300
)

type entryKind int

const (
	kindLiteral entryKind = iota
	kindGlob
)

// entry is one filter pattern: a glob or a literal, with ban entries
// carrying an expiry (0 = permanent).
type entry struct {
	kind    entryKind
	pattern string
	expiry  int64
}

func isGlob(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// cacheFile holds the parsed contents of one filter file. Entries live in
// one list: globs in load order first, then literals in sorted order.
// Callers hold the store lock.
type cacheFile struct {
	filename string
	mtime    time.Time
	entries  []*entry
	globLen  int
	// ban enables expiry semantics on literal entries.
	ban bool
}

func newCacheFile(filename string, ban bool) *cacheFile {
	return &cacheFile{filename: filename, ban: ban}
}

// configured reports whether a backing file was set at all.
func (c *cacheFile) configured() bool {
	return c.filename != ""
}

// recheck reloads the file when its mtime moved.
func (c *cacheFile) recheck(now int64) {
	if !c.configured() {
		return
	}
	info, err := os.Stat(c.filename)
	if err != nil {
		return
	}
	if info.ModTime().Equal(c.mtime) {
		return
	}
	c.mtime = info.ModTime()
	c.reload(now)
}

func (c *cacheFile) reload(now int64) {
	f, err := os.Open(c.filename)
	if err != nil {
		return
	}
	defer f.Close()

	c.entries = c.entries[:0]
	c.globLen = 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		c.add(line, 0)
	}
}

// add inserts one pattern, keeping the literal region sorted.
func (c *cacheFile) add(pattern string, expiry int64) {
	e := &entry{pattern: pattern, expiry: expiry}
	if isGlob(pattern) {
		e.kind = kindGlob
		c.entries = append(c.entries, nil)
		copy(c.entries[c.globLen+1:], c.entries[c.globLen:])
		c.entries[c.globLen] = e
		c.globLen++
		return
	}
	lits := c.entries[c.globLen:]
	i := sort.Search(len(lits), func(i int) bool { return lits[i].pattern >= pattern })
	if i < len(lits) && lits[i].pattern == pattern {
		lits[i].expiry = expiry
		return
	}
	c.entries = append(c.entries, nil)
	copy(c.entries[c.globLen+i+1:], c.entries[c.globLen+i:])
	c.entries[c.globLen+i] = e
}

// remove deletes a literal entry.
func (c *cacheFile) remove(pattern string) {
	lits := c.entries[c.globLen:]
	i := sort.Search(len(lits), func(i int) bool { return lits[i].pattern >= pattern })
	if i < len(lits) && lits[i].pattern == pattern {
		at := c.globLen + i
		c.entries = append(c.entries[:at], c.entries[at+1:]...)
	}
}

// walkResult is what a literal-region walk reports back: the match if
// any, plus at most one stale entry noticed on the way down.
type walkResult struct {
	match *entry
	stale *entry
}

// walk binary-searches the literal region for key. Every probed
// non-matching entry whose expiry lies more than staleAfter behind now is
// a candidate for opportunistic removal; the first one seen is reported.
func (c *cacheFile) walk(key string, now int64) walkResult {
	var res walkResult
	lits := c.entries[c.globLen:]
	lo, hi := 0, len(lits)
	for lo < hi {
		mid := (lo + hi) / 2
		e := lits[mid]
		switch {
		case e.pattern == key:
			res.match = e
			return res
		case e.pattern < key:
			lo = mid + 1
		default:
			hi = mid
		}
		if res.stale == nil && c.ban && e.expiry > 0 && e.expiry < now-staleAfter {
			res.stale = e
		}
	}
	return res
}

// search reports whether key matches any glob or literal entry. Ban
// expiry is not consulted; use searchBan for the ban list.
func (c *cacheFile) search(key string, now int64) bool {
	c.recheck(now)
	for _, e := range c.entries[:c.globLen] {
		if patternMatch(e.pattern, key) {
			return true
		}
	}
	res := c.walk(key, now)
	return res.match != nil
}

// searchBan applies ban-list semantics: globs match unconditionally;
// a literal match holds while unexpired, and an active match sliding
// within banExtension of expiry is extended. Expired matches are removed,
// as is at most one stale entry noticed during the walk.
func (c *cacheFile) searchBan(ip string, now int64) bool {
	c.recheck(now)
	for _, e := range c.entries[:c.globLen] {
		if patternMatch(e.pattern, ip) {
			return true
		}
	}
	res := c.walk(ip, now)
	banned := false
	if m := res.match; m != nil {
		if m.expiry == 0 || m.expiry > now {
			if m.expiry != 0 && now+banExtension > m.expiry {
				m.expiry = now + banExtension
			}
			banned = true
		} else {
			c.remove(m.pattern)
		}
	}
	if res.stale != nil {
		c.remove(res.stale.pattern)
	}
	return banned
}

// count returns the number of entries held.
func (c *cacheFile) count() int {
	return len(c.entries)
}

// clear drops all entries.
func (c *cacheFile) clear() {
	c.entries = nil
	c.globLen = 0
	c.mtime = time.Time{}
}
