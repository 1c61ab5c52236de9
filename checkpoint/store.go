// Package checkpoint implements the sealed checkpoint store: three
// independently encrypted copies of a single timestamp, replicated on the
// local filesystem, that together provide a monotone lower bound for the
// trusted-time oracle even when the external time sources are unreachable.
package checkpoint

import (
	"crypto/sha256"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/hkdf"

	engerrors "github.com/nascentcore/license-engine/infrastructure/errors"
)

const (
	fileCount        = 3
	defaultFilePerm  = 0o600
	defaultDirPerm   = 0o700
	defaultTolerance = 1 * time.Second
	hkdfInfoPrefix   = "license-engine-checkpoint-"
	minAgreeingFiles = 2
)

func fileName(index int) string {
	return fmt.Sprintf("timestamp_%d.dat", index+1)
}

// Store manages the three-file sealed checkpoint directory.
type Store struct {
	dir       string
	keys      [fileCount]*fernet.Key
	tolerance time.Duration
}

// NewStore derives the per-file Fernet keys from secret (exactly 32 bytes)
// via HKDF-SHA256 and returns a Store rooted at dir. It does not touch the
// filesystem; Update creates the directory on first write.
func NewStore(dir string, secret []byte, tolerance time.Duration) (*Store, error) {
	if len(secret) != 32 {
		return nil, engerrors.New(engerrors.ErrCodeInvalidKey, fmt.Sprintf("checkpoint secret must be 32 bytes, got %d", len(secret)), engerrors.SeverityFatal)
	}
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}

	s := &Store{dir: dir, tolerance: tolerance}
	for i := 0; i < fileCount; i++ {
		key, err := deriveFernetKey(secret, i)
		if err != nil {
			return nil, engerrors.Wrap(engerrors.ErrCodeInvalidKey, "deriving checkpoint file key", engerrors.SeverityFatal, err)
		}
		s.keys[i] = key
	}
	return s, nil
}

func deriveFernetKey(secret []byte, index int) (*fernet.Key, error) {
	reader := hkdf.New(sha256.New, secret, nil, []byte(fmt.Sprintf("%s%d", hkdfInfoPrefix, index)))
	var raw [32]byte
	if _, err := io.ReadFull(reader, raw[:]); err != nil {
		return nil, err
	}
	key := fernet.Key(raw)
	return &key, nil
}

// EnsureDir creates the checkpoint directory with owner-only permissions if
// it does not already exist.
func (s *Store) EnsureDir() error {
	return os.MkdirAll(s.dir, defaultDirPerm)
}

// Validate decrypts all three files and reports the agreed timestamp.
// Per §4.D, the call succeeds iff at least two files decrypt successfully
// and every successfully-decrypted timestamp agrees with the others within
// the configured tolerance. A fresh directory (no files written yet) is not
// corrupt; it simply has no floor, and a zero time and a nil error are
// returned.
func (s *Store) Validate() (time.Time, error) {
	var decoded []time.Time
	present := 0

	for i := 0; i < fileCount; i++ {
		if _, err := os.Stat(filepath.Join(s.dir, fileName(i))); err == nil {
			present++
		}
		ts, ok := s.readFile(i)
		if ok {
			decoded = append(decoded, ts)
		}
	}

	if present == 0 {
		return time.Time{}, nil
	}

	if len(decoded) < minAgreeingFiles {
		return time.Time{}, engerrors.CheckpointCorrupt(fmt.Sprintf("only %d of %d checkpoint files decrypted", len(decoded), fileCount))
	}

	sort.Slice(decoded, func(i, j int) bool { return decoded[i].Before(decoded[j]) })
	spread := decoded[len(decoded)-1].Sub(decoded[0])
	if spread > s.tolerance {
		return time.Time{}, engerrors.CheckpointCorrupt(fmt.Sprintf("decrypted timestamps disagree by %s, exceeds tolerance %s", spread, s.tolerance))
	}

	return decoded[len(decoded)-1], nil
}

// readFile decrypts file index i. It returns ok=false for any failure
// (missing file, bad token, malformed plaintext) rather than propagating an
// error: a single bad file is expected and tolerated by Validate's 2-of-3
// rule.
func (s *Store) readFile(i int) (time.Time, bool) {
	path := filepath.Join(s.dir, fileName(i))
	tok, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, false
	}

	msg := fernet.VerifyAndDecrypt(tok, 0, []*fernet.Key{s.keys[i]})
	if msg == nil {
		return time.Time{}, false
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(msg)), 64)
	if err != nil {
		return time.Time{}, false
	}

	whole := math.Trunc(seconds)
	frac := seconds - whole
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), true
}

// Update rewrites all three files with t, encoded as the ASCII decimal
// Unix timestamp in seconds. Each file is written to a temporary name in
// the same directory and atomically renamed into place so a concurrent
// reader never observes a partially-written file.
func (s *Store) Update(t time.Time) error {
	if err := s.EnsureDir(); err != nil {
		return engerrors.Wrap(engerrors.ErrCodeCheckpointCorrupt, "creating checkpoint directory", engerrors.SeverityFatal, err)
	}

	plaintext := []byte(strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', -1, 64))

	for i := 0; i < fileCount; i++ {
		tok, err := fernet.EncryptAndSign(plaintext, s.keys[i])
		if err != nil {
			return fmt.Errorf("seal checkpoint file %d: %w", i, err)
		}
		if err := s.writeAtomic(fileName(i), tok); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeAtomic(name string, data []byte) error {
	final := filepath.Join(s.dir, name)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, defaultFilePerm); err != nil {
		return fmt.Errorf("write temp checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename checkpoint file into place: %w", err)
	}
	return nil
}
