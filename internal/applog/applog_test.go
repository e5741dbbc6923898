package applog

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pierrec/lz4/v4"
)

func TestInfoAndError(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Info("cache.hit", "video", "abc", "title", "two words")
	Error("chat.call", errors.New("boom"), "video", "abc")
	Close()

	data, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), data)
	}
	if !strings.Contains(lines[0], "INFO cache.hit video=abc title=\"two words\"") {
		t.Errorf("info line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "ERROR chat.call err=boom video=abc") {
		t.Errorf("error line = %q", lines[1])
	}
}

func TestNoopWithoutInit(t *testing.T) {
	Close()
	Info("ignored", "k", "v") // must not panic
}

func TestRotateCompressesLargeLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, fileName)
	big := bytes.Repeat([]byte("x"), maxFileSize+1)
	if err := os.WriteFile(path, big, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("fresh log missing: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("fresh log size = %d, want 0", info.Size())
	}

	f, err := os.Open(path + ".1.lz4")
	if err != nil {
		t.Fatalf("rotated log missing: %v", err)
	}
	defer f.Close()
	got, err := io.ReadAll(lz4.NewReader(f))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, big) {
		t.Errorf("decompressed %d bytes, want %d", len(got), len(big))
	}
}

func TestQuoteTruncates(t *testing.T) {
	s := strings.Repeat("a", maxValueLen+10)
	got := quote(s)
	if !strings.HasSuffix(got, truncSuffix) {
		t.Errorf("expected truncation suffix, got %q", got[len(got)-5:])
	}
}
