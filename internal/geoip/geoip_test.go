package geoip

import (
	"testing"
)

func TestDBNilReader(t *testing.T) {
	db := &DB{reader: nil}

	_, err := db.LookupCountry("8.8.8.8")
	if err == nil {
		t.Error("expected error for nil reader")
	}
}

func TestInvalidIP(t *testing.T) {
	db := &DB{reader: nil}

	_, err := db.LookupCountry("not-an-ip")
	if err == nil {
		t.Error("expected error for invalid IP")
	}

	_, err = db.LookupCountry("")
	if err == nil {
		t.Error("expected error for empty IP")
	}
}

func TestCloseNilDB(t *testing.T) {
	db := &DB{reader: nil}

	err := db.Close()
	if err != nil {
		t.Errorf("expected no error closing nil db, got: %v", err)
	}
}

func TestOpenInvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/path/to/db.mmdb")
	if err == nil {
		t.Error("expected error for invalid path")
	}
}
