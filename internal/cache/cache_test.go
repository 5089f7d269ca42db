package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHashURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"simple URL", "http://example.com/stream.mp3"},
		{"URL with query params", "http://example.com/stream.mp3?id=1"},
		{"empty string", ""},
		{"https URL", "https://icecast.example.org/stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := hashURL(tt.url)

			if len(result) != 32 {
				t.Errorf("hashURL(%q) length = %d, want 32", tt.url, len(result))
			}

			for _, c := range result {
				if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
					t.Errorf("hashURL(%q) contains non-hex character: %c", tt.url, c)
				}
			}
		})
	}
}

func TestHashURLConsistency(t *testing.T) {
	url := "http://example.com/stream.mp3"

	hash1 := hashURL(url)
	hash2 := hashURL(url)

	if hash1 != hash2 {
		t.Errorf("hashURL is not consistent: %q != %q", hash1, hash2)
	}
}

func TestHashURLUniqueness(t *testing.T) {
	url1 := "http://example.com/stream1.mp3"
	url2 := "http://example.com/stream2.mp3"

	hash1 := hashURL(url1)
	hash2 := hashURL(url2)

	if hash1 == hash2 {
		t.Errorf("Different URLs produced same hash: %q", hash1)
	}
}

func TestSaveAndGetEntry(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  DefaultExpiry,
	}

	testURL := "http://example.com/stream.mp3"
	entry := Entry{
		DataOffset:        1024,
		FileLength:        9_999_999,
		TotalAudioPackets: 40_000,
		BitsPerSecond:     128000,
	}

	if err := cache.Save(testURL, entry); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got := cache.Get(testURL)
	if got == nil {
		t.Fatal("Get() returned nil, expected entry")
	}
	if *got != entry {
		t.Errorf("Get() = %+v, want %+v", *got, entry)
	}
}

func TestGetNonExistent(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  DefaultExpiry,
	}

	if got := cache.Get("http://example.com/nonexistent.mp3"); got != nil {
		t.Error("Get() for nonexistent URL should return nil")
	}
}

func TestGetExpired(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  1 * time.Millisecond,
	}

	testURL := "http://example.com/expired.mp3"
	entry := Entry{DataOffset: 512}

	if err := cache.Save(testURL, entry); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if got := cache.Get(testURL); got != nil {
		t.Error("Get() for an expired entry should return nil")
	}

	entryPath := filepath.Join(tmpDir, EntrySubdir, hashURL(testURL)+".json")
	if _, err := os.Stat(entryPath); !os.IsNotExist(err) {
		t.Error("expired entry file should have been deleted")
	}
}

func TestCleanExpired(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  1 * time.Millisecond,
	}

	urls := []string{
		"http://example.com/stream1.mp3",
		"http://example.com/stream2.mp3",
		"http://example.com/stream3.mp3",
	}

	for _, url := range urls {
		if err := cache.Save(url, Entry{DataOffset: 1}); err != nil {
			t.Fatalf("Save(%q) error = %v", url, err)
		}
	}

	time.Sleep(10 * time.Millisecond)

	if err := cache.CleanExpired(); err != nil {
		t.Fatalf("CleanExpired() error = %v", err)
	}

	entryDir := filepath.Join(tmpDir, EntrySubdir)
	entries, err := os.ReadDir(entryDir)
	if err != nil {
		t.Fatalf("Failed to read entry directory: %v", err)
	}

	if len(entries) != 0 {
		t.Errorf("CleanExpired() left %d files, want 0", len(entries))
	}
}

func TestCleanExpiredKeepsValidFiles(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  24 * time.Hour,
	}

	testURL := "http://example.com/valid.mp3"

	if err := cache.Save(testURL, Entry{DataOffset: 1}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := cache.CleanExpired(); err != nil {
		t.Fatalf("CleanExpired() error = %v", err)
	}

	if got := cache.Get(testURL); got == nil {
		t.Error("CleanExpired() should not remove valid (non-expired) entries")
	}
}

func TestCleanExpiredNonExistentDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  DefaultExpiry,
	}

	if err := cache.CleanExpired(); err != nil {
		t.Errorf("CleanExpired() should not error on non-existent directory, got %v", err)
	}
}

func TestGetCacheDir(t *testing.T) {
	dir, err := GetCacheDir()
	if err != nil {
		t.Fatalf("GetCacheDir() error = %v", err)
	}

	if dir == "" {
		t.Error("GetCacheDir() returned empty string")
	}

	if !filepath.IsAbs(dir) {
		t.Errorf("GetCacheDir() = %q, want absolute path", dir)
	}

	if filepath.Base(dir) != AppName {
		t.Errorf("GetCacheDir() directory name = %q, want %q", filepath.Base(dir), AppName)
	}
}

func TestNewCache(t *testing.T) {
	cache, err := NewCache()
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	if cache == nil {
		t.Fatal("NewCache() returned nil")
	} else {
		if cache.baseDir == "" {
			t.Error("NewCache() cache.baseDir is empty")
		}
		if cache.expiry != DefaultExpiry {
			t.Errorf("NewCache() cache.expiry = %v, want %v", cache.expiry, DefaultExpiry)
		}
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  DefaultExpiry,
	}

	testURL := "http://example.com/stream.mp3"

	if err := cache.Save(testURL, Entry{DataOffset: 1}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	entryDir := filepath.Join(tmpDir, EntrySubdir)
	info, err := os.Stat(entryDir)
	if err != nil {
		t.Fatalf("entry directory was not created: %v", err)
	}

	if !info.IsDir() {
		t.Error("EntrySubdir should be a directory")
	}
}

func TestMultipleEntriesSameCache(t *testing.T) {
	tmpDir := t.TempDir()

	cache := &Cache{
		baseDir: tmpDir,
		expiry:  DefaultExpiry,
	}

	entries := map[string]Entry{
		"http://example.com/stream1.mp3": {DataOffset: 10, FileLength: 100},
		"http://example.com/stream2.mp3": {DataOffset: 20, FileLength: 200},
		"http://example.com/stream3.mp3": {DataOffset: 30, FileLength: 300},
	}

	for url, entry := range entries {
		if err := cache.Save(url, entry); err != nil {
			t.Fatalf("Save(%q) error = %v", url, err)
		}
	}

	for url, want := range entries {
		got := cache.Get(url)
		if got == nil {
			t.Errorf("Get(%q) returned nil", url)
			continue
		}
		if *got != want {
			t.Errorf("Get(%q) = %+v, want %+v", url, *got, want)
		}
	}
}
