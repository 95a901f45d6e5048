// Package geoip resolves client addresses to country codes for the
// admission filter.
package geoip

import (
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// DB wraps a MaxMind GeoIP2 database.
type DB struct {
	reader *geoip2.Reader
	mu     sync.RWMutex
}

// Open opens a GeoIP database file.
func Open(path string) (*DB, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &DB{reader: reader}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.reader != nil {
		return db.reader.Close()
	}
	return nil
}

// LookupCountry returns the ISO country code for an address.
func (db *DB) LookupCountry(ipStr string) (string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.reader == nil {
		return "", fmt.Errorf("database not loaded")
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "", fmt.Errorf("invalid IP address: %s", ipStr)
	}

	record, err := db.reader.Country(ip)
	if err != nil {
		return "", err
	}
	return record.Country.IsoCode, nil
}
