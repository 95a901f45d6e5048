package filter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"streamgate/internal/logging"
)

func testLogger() *logging.Logger {
	l, _ := logging.New(logging.Config{Level: "error", Output: "stderr"})
	return l
}

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		matched bool
	}{
		{"10.0.0.*", "10.0.0.44", true},
		{"10.0.0.*", "10.0.1.44", false},
		{"10.0.?.1", "10.0.3.1", true},
		{"10.0.[0-3].1", "10.0.2.1", true},
		{"10.0.[0-3].1", "10.0.5.1", false},
		{"curl*", "curl/7.68.0", true},
		{"*bot*", "Mozilla/5.0 SomeBot/1.2", false},
		{"*Bot*", "Mozilla/5.0 SomeBot/1.2", true},
		{"1.2.3.4", "1.2.3.4", true},
		{"*", "anything at all", true},
	}
	for _, tc := range tests {
		if got := patternMatch(tc.pattern, tc.name); got != tc.matched {
			t.Errorf("patternMatch(%q, %q): expected %v, got %v", tc.pattern, tc.name, tc.matched, got)
		}
	}
}

func TestGlobDetection(t *testing.T) {
	c := newCacheFile("", true)
	c.add("10.0.0.*", 0)
	c.add("1.2.3.4", 0)
	c.add("172.16.0.1", 0)

	if c.globLen != 1 {
		t.Fatalf("expected 1 glob entry, got %d", c.globLen)
	}
	if len(c.entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(c.entries))
	}
	// literal region stays sorted
	if c.entries[1].pattern != "1.2.3.4" || c.entries[2].pattern != "172.16.0.1" {
		t.Error("literal region out of order")
	}
}

func TestBanExpiryPermanent(t *testing.T) {
	now := time.Now().Unix()
	c := newCacheFile("", true)
	c.add("1.2.3.4", 0)

	if !c.searchBan("1.2.3.4", now) {
		t.Error("permanent entry must match")
	}
	if !c.searchBan("1.2.3.4", now+1000000) {
		t.Error("permanent entry must match forever")
	}
}

func TestBanExpiryTimed(t *testing.T) {
	now := time.Now().Unix()
	c := newCacheFile("", true)
	c.add("5.6.7.8", now+1000)

	if !c.searchBan("5.6.7.8", now) {
		t.Error("unexpired entry must match")
	}
	if c.searchBan("5.6.7.8", now+2000) {
		t.Error("expired entry must not match")
	}
	// the expired entry was removed by the lookup that saw it
	if c.count() != 0 {
		t.Errorf("expected expired entry removed, have %d entries", c.count())
	}
}

func TestBanExpiryExtension(t *testing.T) {
	now := time.Now().Unix()
	c := newCacheFile("", true)
	// expiry within the extension window of now
	c.add("1.2.3.4", now+200)

	if !c.searchBan("1.2.3.4", now+50) {
		t.Fatal("entry should still be banned")
	}

	res := c.walk("1.2.3.4", now)
	if res.match == nil {
		t.Fatal("entry disappeared")
	}
	if res.match.expiry != now+50+banExtension {
		t.Errorf("expected expiry extended to %d, got %d", now+50+banExtension, res.match.expiry)
	}
}

func TestBanNoExtensionFarOut(t *testing.T) {
	now := time.Now().Unix()
	c := newCacheFile("", true)
	c.add("1.2.3.4", now+10000)

	c.searchBan("1.2.3.4", now)

	res := c.walk("1.2.3.4", now)
	if res.match.expiry != now+10000 {
		t.Errorf("distant expiry must not change, got %d", res.match.expiry)
	}
}

func TestOpportunisticEviction(t *testing.T) {
	now := time.Now().Unix()
	c := newCacheFile("", true)
	// a long-stale entry sitting on the probe path to 9.9.9.9
	c.add("1.1.1.1", 0)
	c.add("5.5.5.5", now-500)
	c.add("9.9.9.9", 0)

	// lookup of a different key walks past the stale entry
	c.searchBan("9.9.9.9", now)

	res := c.walk("5.5.5.5", now)
	if res.match != nil {
		t.Error("stale entry should have been evicted by the previous lookup")
	}
}

func TestStaleWithinGraceKept(t *testing.T) {
	now := time.Now().Unix()
	c := newCacheFile("", true)
	// expired, but within the grace period
	c.add("1.1.1.1", 0)
	c.add("5.5.5.5", now-30)
	c.add("9.9.9.9", 0)

	c.searchBan("9.9.9.9", now)

	res := c.walk("5.5.5.5", now)
	if res.match == nil {
		t.Error("entry within the grace period must not be evicted as a sibling")
	}
}

func TestGlobBan(t *testing.T) {
	now := time.Now().Unix()
	c := newCacheFile("", true)
	c.add("10.0.0.*", 0)

	if !c.searchBan("10.0.0.99", now) {
		t.Error("glob entry should ban matching address")
	}
	if c.searchBan("10.0.1.99", now) {
		t.Error("non-matching address banned")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestFileReloadOnMtime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ban.txt")
	writeFile(t, path, "1.2.3.4\n")

	now := time.Now().Unix()
	c := newCacheFile(path, true)

	if !c.searchBan("1.2.3.4", now) {
		t.Fatal("entry from file should match")
	}
	if c.searchBan("5.6.7.8", now) {
		t.Fatal("absent entry matched")
	}

	writeFile(t, path, "5.6.7.8\n# comment\n10.0.*\n")
	// force an mtime change the stat will notice
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes failed: %v", err)
	}

	if !c.searchBan("5.6.7.8", now) {
		t.Error("entry from reloaded file should match")
	}
	if c.searchBan("1.2.3.4", now) {
		t.Error("removed entry still matches after reload")
	}
	if !c.searchBan("10.0.0.1", now) {
		t.Error("glob from reloaded file should match")
	}
}

func TestStoreAcceptIP(t *testing.T) {
	dir := t.TempDir()
	banPath := filepath.Join(dir, "ban.txt")
	allowPath := filepath.Join(dir, "allow.txt")
	writeFile(t, banPath, "6.6.6.6\n")
	writeFile(t, allowPath, "10.0.0.*\n127.0.0.1\n")

	s, err := NewStore(StoreConfig{BanFile: banPath, AllowFile: allowPath}, testLogger())
	if err != nil {
		t.Fatalf("store creation failed: %v", err)
	}
	defer s.Close()

	now := time.Now().Unix()
	tests := []struct {
		ip       string
		accepted bool
	}{
		{"6.6.6.6", false},  // banned
		{"10.0.0.7", true},  // allowed by glob
		{"127.0.0.1", true}, // allowed literal
		{"8.8.8.8", false},  // allow list active, not listed
	}
	for _, tc := range tests {
		if got := s.AcceptIP(tc.ip, now); got != tc.accepted {
			t.Errorf("AcceptIP(%q): expected %v, got %v", tc.ip, tc.accepted, got)
		}
	}
}

func TestStoreNoAllowFileAcceptsAll(t *testing.T) {
	s, err := NewStore(StoreConfig{}, testLogger())
	if err != nil {
		t.Fatalf("store creation failed: %v", err)
	}
	defer s.Close()

	if !s.AcceptIP("8.8.8.8", time.Now().Unix()) {
		t.Error("with no filters configured every address is accepted")
	}
}

func TestStoreRuntimeBans(t *testing.T) {
	s, err := NewStore(StoreConfig{}, testLogger())
	if err != nil {
		t.Fatalf("store creation failed: %v", err)
	}
	defer s.Close()

	now := time.Now().Unix()
	s.AddBannedIP("4.4.4.4", 0)
	if s.AcceptIP("4.4.4.4", now) {
		t.Error("runtime ban not applied")
	}
	if s.BannedCount() != 1 {
		t.Errorf("expected 1 ban entry, got %d", s.BannedCount())
	}

	s.ReleaseBannedIP("4.4.4.4")
	if !s.AcceptIP("4.4.4.4", now) {
		t.Error("released ban still applied")
	}
}

func TestStoreDropAgent(t *testing.T) {
	dir := t.TempDir()
	agentPath := filepath.Join(dir, "agents.txt")
	writeFile(t, agentPath, "*Bot*\ncurl/7.68.0\n")

	s, err := NewStore(StoreConfig{AgentFile: agentPath}, testLogger())
	if err != nil {
		t.Fatalf("store creation failed: %v", err)
	}
	defer s.Close()

	now := time.Now().Unix()
	if !s.DropAgent("SuperBot/2.0", now) {
		t.Error("glob agent pattern should match")
	}
	if !s.DropAgent("curl/7.68.0", now) {
		t.Error("literal agent should match")
	}
	if s.DropAgent("Mozilla/5.0", now) {
		t.Error("unlisted agent dropped")
	}
}
