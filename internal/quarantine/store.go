package quarantine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

var (
	ErrInvalidKey = errors.New("invalid content key")
	ErrNotFound   = errors.New("sample not in quarantine")
)

const (
	sampleExt = ".zst"
	metaExt   = ".json"

	// DefaultMaxSampleSize bounds a restored sample when NewStore is given no limit.
	DefaultMaxSampleSize = 256 << 20
)

// Entry describes one quarantined sample.
type Entry struct {
	Key           string    `json:"key"`
	Filename      string    `json:"filename"`
	Size          int       `json:"size"`
	AnalysisID    string    `json:"analysis_id,omitempty"`
	Verdict       string    `json:"verdict"`
	Score         float32   `json:"score"`
	Confidence    float32   `json:"confidence"`
	Behaviors     []string  `json:"behaviors,omitempty"`
	QuarantinedAt time.Time `json:"quarantined_at"`
}

// Store keeps Malicious samples zstd-compressed in one directory, next to a
// JSON metadata file. Samples are never written executable.
type Store struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time

	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewStore creates dir with owner-only permissions when missing. Restore
// refuses to inflate a sample past maxSize bytes; zero or less uses
// DefaultMaxSampleSize.
func NewStore(dir string, maxSize int64, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSampleSize
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create quarantine dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(maxSize)))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Store{dir: dir, logger: logger, now: time.Now, enc: enc, dec: dec}, nil
}

// fileStem maps "algo:hex" to "algo-hex" after checking the key cannot
// escape the directory.
func fileStem(key string) (string, error) {
	algo, digest, ok := strings.Cut(key, ":")
	if !ok || algo == "" || len(digest) < 16 {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, r := range algo + digest {
		if (r < '0' || r > '9') && (r < 'a' || r > 'z') {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return algo + "-" + digest, nil
}

// Quarantine stores the sample and its verdict. Storing the same key again
// refreshes the metadata only.
func (s *Store) Quarantine(ctx context.Context, key, filename string, data []byte, result *analysis.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stem, err := fileStem(key)
	if err != nil {
		return err
	}

	samplePath := filepath.Join(s.dir, stem+sampleExt)
	if _, err := os.Stat(samplePath); errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		compressed := s.enc.EncodeAll(data, nil)
		s.mu.Unlock()
		if err := writeAtomic(samplePath, compressed); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("stat sample: %w", err)
	}

	entry := Entry{
		Key:           key,
		Filename:      filepath.Base(filename),
		Size:          len(data),
		QuarantinedAt: s.now().UTC(),
	}
	if result != nil {
		entry.AnalysisID = result.ID
		entry.Verdict = result.Verdict.String()
		entry.Score = result.Score
		entry.Confidence = result.Confidence
		entry.Behaviors = result.Behaviors
	}
	meta, err := sonic.ConfigStd.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := writeAtomic(filepath.Join(s.dir, stem+metaExt), meta); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	s.logger.Warn("Sample quarantined",
		zap.String("key", key),
		zap.String("filename", entry.Filename),
		zap.Int("size", entry.Size))
	return nil
}

// Entry returns the metadata for key.
func (s *Store) Entry(key string) (Entry, error) {
	stem, err := fileStem(key)
	if err != nil {
		return Entry{}, err
	}
	return s.readEntry(filepath.Join(s.dir, stem+metaExt))
}

// Restore returns the original sample bytes.
func (s *Store) Restore(key string) ([]byte, error) {
	stem, err := fileStem(key)
	if err != nil {
		return nil, err
	}
	compressed, err := os.ReadFile(filepath.Join(s.dir, stem+sampleExt))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	data, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress sample: %w", err)
	}
	return data, nil
}

// Remove deletes the sample and its metadata.
func (s *Store) Remove(key string) error {
	stem, err := fileStem(key)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.dir, stem+sampleExt))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, stem+metaExt)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns all entries, newest first. Unreadable metadata is skipped.
func (s *Store) List() ([]Entry, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	entries := []Entry{}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), metaExt) {
			continue
		}
		e, err := s.readEntry(filepath.Join(s.dir, f.Name()))
		if err != nil {
			s.logger.Warn("Skipping unreadable quarantine entry", zap.String("file", f.Name()), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].QuarantinedAt.After(entries[j].QuarantinedAt)
	})
	return entries, nil
}

// Close releases the codec resources.
func (s *Store) Close() error {
	s.dec.Close()
	return s.enc.Close()
}

func (s *Store) readEntry(path string) (Entry, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := sonic.ConfigStd.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("decode metadata: %w", err)
	}
	return e, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
