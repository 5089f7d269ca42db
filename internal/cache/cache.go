// Package cache provides a disk-based cache of per-URL stream resume
// metadata, adapted from the teacher's image cache (it kept the same
// hashed-URL filename, expiry, and cleanup shape) but repurposed from
// PNG station logos to the JSON entries SPEC_FULL.md's resume-metadata
// cache describes: data_offset, file_length, total_audio_packets and
// the last measured bitrate for a URL, so a later start() against the
// same stream can skip §4.8's bisection when a fresh entry exists.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultExpiry is how long a cached entry is trusted before a
	// fresh bisection is required again: a stream served from a
	// different mirror or re-encoded upstream invalidates old offsets.
	DefaultExpiry = 24 * time.Hour
	// EntrySubdir is the subdirectory for cached entries.
	EntrySubdir = "streams"
	// AppName is used for the cache directory name.
	AppName = "streamcore"
)

// Entry is the resume metadata cached per URL.
type Entry struct {
	DataOffset        int64   `json:"data_offset"`
	FileLength        int64   `json:"file_length"`
	TotalAudioPackets int64   `json:"total_audio_packets"`
	BitsPerSecond     float64 `json:"bits_per_second"`
}

// Cache manages disk-based caching of Entry values keyed by URL.
type Cache struct {
	baseDir string
	expiry  time.Duration
}

// NewCache creates a new Cache instance with the default expiry.
func NewCache() (*Cache, error) {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return nil, err
	}

	return &Cache{
		baseDir: cacheDir,
		expiry:  DefaultExpiry,
	}, nil
}

// GetCacheDir returns the platform-specific cache directory for the application.
func GetCacheDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user cache directory: %w", err)
	}

	cacheDir := filepath.Join(userCacheDir, AppName)
	return cacheDir, nil
}

func (c *Cache) ensureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

func hashURL(url string) string {
	hash := md5.Sum([]byte(url))
	return hex.EncodeToString(hash[:])
}

func (c *Cache) entryPath(url string) string {
	return filepath.Join(c.baseDir, EntrySubdir, hashURL(url)+".json")
}

// Get retrieves a cached Entry for url. Returns nil if not found or expired.
func (c *Cache) Get(url string) *Entry {
	entryPath := c.entryPath(url)

	info, err := os.Stat(entryPath)
	if err != nil {
		return nil
	}

	if time.Since(info.ModTime()) > c.expiry {
		if err := os.Remove(entryPath); err != nil {
			log.Debug().Err(err).Str("file", entryPath).Msg("Failed to remove expired cache file")
		}
		return nil
	}

	data, err := os.ReadFile(entryPath)
	if err != nil {
		return nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		log.Debug().Err(err).Str("file", entryPath).Msg("Failed to decode cached entry")
		return nil
	}

	return &entry
}

// Save stores entry, keyed by url, atomically via a temp file rename.
func (c *Cache) Save(url string, entry Entry) error {
	entryDir := filepath.Join(c.baseDir, EntrySubdir)

	if err := c.ensureDir(entryDir); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	tmpFile, err := os.CreateTemp(entryDir, ".entry-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, c.entryPath(url)); err != nil {
		return fmt.Errorf("failed to rename cache file: %w", err)
	}

	tmpPath = ""
	return nil
}

// CleanExpired removes cache files older than the expiry duration.
func (c *Cache) CleanExpired() error {
	entryDir := filepath.Join(c.baseDir, EntrySubdir)

	entries, err := os.ReadDir(entryDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	now := time.Now()
	var removed, failed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Debug().Err(err).Str("file", entry.Name()).Msg("Failed to get file info")
			continue
		}

		if now.Sub(info.ModTime()) > c.expiry {
			filePath := filepath.Join(entryDir, entry.Name())
			if err := os.Remove(filePath); err != nil {
				log.Debug().Err(err).Str("file", filePath).Msg("Failed to remove expired cache file")
				failed++
			} else {
				removed++
			}
		}
	}

	if removed > 0 || failed > 0 {
		log.Debug().Int("removed", removed).Int("failed", failed).Msg("Cache cleanup completed")
	}

	return nil
}
