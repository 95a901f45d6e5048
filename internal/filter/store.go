package filter

import (
	"sync"
	"time"

	"streamgate/internal/geoip"
	"streamgate/internal/logging"
)

// StoreConfig selects the backing files and the optional GeoIP deny set.
type StoreConfig struct {
	BanFile       string
	AllowFile     string
	AgentFile     string
	GeoIPDatabase string
	DenyCountries []string
}

// Store is the admission filter: banned IPs, allowed IPs, denied user
// agents and an optional country deny set. One mutex guards all
// mutations, including mtime-driven reloads.
type Store struct {
	mu      sync.Mutex
	banned  *cacheFile
	allowed *cacheFile
	agents  *cacheFile

	geo           *geoip.DB
	denyCountries map[string]bool

	logger *logging.Logger
}

// NewStore creates the filter store. A missing GeoIP database is an
// error only when countries are configured against it.
func NewStore(cfg StoreConfig, logger *logging.Logger) (*Store, error) {
	s := &Store{
		banned:  newCacheFile(cfg.BanFile, true),
		allowed: newCacheFile(cfg.AllowFile, false),
		agents:  newCacheFile(cfg.AgentFile, false),
		logger:  logger,
	}
	if cfg.GeoIPDatabase != "" && len(cfg.DenyCountries) > 0 {
		db, err := geoip.Open(cfg.GeoIPDatabase)
		if err != nil {
			return nil, err
		}
		s.geo = db
		s.denyCountries = make(map[string]bool, len(cfg.DenyCountries))
		for _, c := range cfg.DenyCountries {
			s.denyCountries[c] = true
		}
	}
	return s, nil
}

// AcceptIP decides admission for a peer address: banned addresses and,
// when an allow list exists, unlisted addresses are refused, as are
// addresses resolving to a denied country.
func (s *Store) AcceptIP(ip string, now int64) bool {
	s.mu.Lock()
	if s.banned.searchBan(ip, now) {
		s.mu.Unlock()
		s.logger.Debug("connection refused, banned", map[string]interface{}{"ip": ip})
		return false
	}
	if s.allowed.configured() && !s.allowed.search(ip, now) {
		s.mu.Unlock()
		s.logger.Debug("connection refused, not allowed", map[string]interface{}{"ip": ip})
		return false
	}
	s.mu.Unlock()

	if s.geo != nil {
		country, err := s.geo.LookupCountry(ip)
		if err == nil && s.denyCountries[country] {
			s.logger.Debug("connection refused, country denied",
				map[string]interface{}{"ip": ip, "country": country})
			return false
		}
	}
	return true
}

// DropAgent reports whether a user-agent string is on the deny list.
func (s *Store) DropAgent(agent string, now int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.agents.configured() {
		return false
	}
	return s.agents.search(agent, now)
}

// AgentFilterActive reports whether a user-agent deny file is set.
func (s *Store) AgentFilterActive() bool {
	return s.agents.configured()
}

// AddBannedIP inserts a runtime ban. A positive duration limits it to
// that many seconds; zero makes it permanent.
func (s *Store) AddBannedIP(ip string, duration int) {
	var expiry int64
	if duration > 0 {
		expiry = time.Now().Unix() + int64(duration)
	}
	s.mu.Lock()
	s.banned.add(ip, expiry)
	s.mu.Unlock()
	s.logger.Info("address banned", map[string]interface{}{"ip": ip, "duration": duration})
}

// ReleaseBannedIP removes a runtime ban.
func (s *Store) ReleaseBannedIP(ip string) {
	s.mu.Lock()
	s.banned.remove(ip)
	s.mu.Unlock()
	s.logger.Info("address unbanned", map[string]interface{}{"ip": ip})
}

// BannedCount returns the current number of ban entries.
func (s *Store) BannedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banned.count()
}

// Close releases file contents and the GeoIP handle.
func (s *Store) Close() {
	s.mu.Lock()
	s.banned.clear()
	s.allowed.clear()
	s.agents.clear()
	s.mu.Unlock()
	if s.geo != nil {
		s.geo.Close()
	}
}
