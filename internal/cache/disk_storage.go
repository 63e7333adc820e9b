package cache

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// DiskStorage keeps one directory per generation under cacheDir.
// Each entry is a file named after the hash of its key; the key itself is
// stored on the first line so that Keys can list it back.
type DiskStorage struct {
	cacheDir string
}

// NewDisk creates a disk storage rooted at cacheDir, creating the directory if needed
func NewDisk(cacheDir string) (*DiskStorage, error) {
	if cacheDir == "" {
		return nil, errors.New("cache folder is required")
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &DiskStorage{cacheDir: cacheDir}, nil
}

func (d *DiskStorage) Open(ctx context.Context, generation string) (Bucket, error) {
	if err := ValidateGeneration(generation); err != nil {
		return nil, err
	}
	dir := filepath.Join(d.cacheDir, generation)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create generation %s: %w", generation, err)
	}
	return &diskBucket{name: generation, dir: dir}, nil
}

func (d *DiskStorage) Generations(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.cacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (d *DiskStorage) Delete(ctx context.Context, generation string) error {
	if err := ValidateGeneration(generation); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(d.cacheDir, generation)); err != nil {
		return fmt.Errorf("failed to delete generation %s: %w", generation, err)
	}
	logrus.Debugf("Deleted cache generation %s", generation)
	return nil
}

func (d *DiskStorage) Close() error {
	return nil
}

type diskBucket struct {
	name string
	dir  string
}

func (b *diskBucket) Name() string {
	return b.name
}

func (b *diskBucket) path(key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(b.dir, hex.EncodeToString(hash[:])+".bin")
}

func (b *diskBucket) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	storedKey, value, ok := bytes.Cut(data, []byte("\n"))
	if !ok || string(storedKey) != key {
		// hash collision or a truncated file, either way not our entry
		return nil, ErrNotFound
	}
	return value, nil
}

// Set writes to a temporary file and renames it over the entry, so readers
// observe either the previous value or the new one.
func (b *diskBucket) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.Contains(key, "\n") {
		return fmt.Errorf("cache key must not contain a newline: %q", key)
	}

	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(b.dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(append([]byte(key+"\n"), value...))
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tempName)
		return err
	}

	cachePath := b.path(key)
	if err := os.Rename(tempName, cachePath); err != nil {
		_ = os.Remove(tempName)
		return err
	}

	logrus.Debugf("Cached entry %s in %s", key, cachePath)
	return nil
}

func (b *diskBucket) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.Get(ctx, key); errors.Is(err, ErrNotFound) {
		return nil
	}
	if err := os.Remove(b.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	logrus.Debugf("Removed entry %s from %s", key, b.dir)
	return nil
}

func (b *diskBucket) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		key, err := readKey(filepath.Join(b.dir, entry.Name()))
		if err != nil {
			logrus.Warnf("Skipping unreadable cache file %s: %v", entry.Name(), err)
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func readKey(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("missing key header: %w", err)
	}
	return strings.TrimSuffix(line, "\n"), nil
}
