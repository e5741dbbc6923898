package storage

import (
	"path/filepath"
	"testing"
)

func TestGetMinimizedDefaultsFalse(t *testing.T) {
	p := NewPrefs(testDB(t))
	if p.GetMinimized() {
		t.Error("GetMinimized() = true on empty store, want false")
	}
}

func TestSetMinimizedOverwrites(t *testing.T) {
	p := NewPrefs(testDB(t))

	if err := p.SetMinimized(true); err != nil {
		t.Fatal(err)
	}
	if !p.GetMinimized() {
		t.Fatal("GetMinimized() = false after SetMinimized(true)")
	}
	if err := p.SetMinimized(false); err != nil {
		t.Fatal(err)
	}
	if p.GetMinimized() {
		t.Error("GetMinimized() = true after SetMinimized(false)")
	}
}

func TestMinimizedSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "prefs.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := NewPrefs(db).SetMinimized(true); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = OpenDB(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if !NewPrefs(db).GetMinimized() {
		t.Error("minimized flag lost across reopen")
	}
}

func TestGetMinimizedMalformedValue(t *testing.T) {
	p := NewPrefs(testDB(t))
	if err := p.Set(MinimizedKey, "sideways"); err != nil {
		t.Fatal(err)
	}
	if p.GetMinimized() {
		t.Error("malformed value should read as false")
	}
}

func TestGetMissingKey(t *testing.T) {
	p := NewPrefs(testDB(t))
	_, ok, err := p.Get("nope")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected missing key")
	}
}
