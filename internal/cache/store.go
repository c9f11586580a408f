// Package cache implements the encryption-aware, filesystem-backed mail
// cache: per-folder UID sets, headers, bodies, flags and a date index,
// stored under $APPDIR/cache/ and fingerprinted by folder name.
package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dusong7/nmail-go/internal/crypto"
	"github.com/dusong7/nmail-go/internal/logging"
	"github.com/rs/zerolog"
)

// Store is the on-disk cache root. All operations are synchronous and
// guarded by a single mutex (spec §5: "a single global mutex guards
// CacheStore; critical sections are short").
type Store struct {
	mu      sync.Mutex
	dir     string
	envelope *crypto.Envelope
	encrypt bool
	log     zerolog.Logger
}

// New returns a Store rooted at dir (typically $APPDIR/cache). When
// encrypt is true, every blob is passed through envelope before being
// written and after being read; envelope may be nil only when encrypt is
// false.
func New(dir string, encrypt bool, envelope *crypto.Envelope) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cache: create root: %w", err)
	}

	return &Store{
		dir:      dir,
		envelope: envelope,
		encrypt:  encrypt,
		log:      logging.WithComponent("cache"),
	}, nil
}

func (s *Store) folderDir(folder string) string {
	return filepath.Join(s.dir, crypto.SHA256Hex(folder))
}

// --- blob codec -------------------------------------------------------

func (s *Store) encodeBlob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("cache: encode: %w", err)
	}

	if !s.encrypt {
		return buf.Bytes(), nil
	}

	return s.envelope.Encrypt(buf.Bytes())
}

// decodeBlob reports ok=false (never an error) on any decryption or
// decode failure, matching spec §3's "decryption failure of any single
// entry is non-fatal and treated as a cache miss".
func (s *Store) decodeBlob(raw []byte, v any) (ok bool) {
	plain := raw
	if s.encrypt {
		p, err := s.envelope.Decrypt(raw)
		if err != nil {
			s.log.Debug().Err(err).Msg("cache blob failed to decrypt, treating as miss")
			return false
		}
		plain = p
	}

	if err := gob.NewDecoder(bytes.NewReader(plain)).Decode(v); err != nil {
		s.log.Debug().Err(err).Msg("cache blob failed to decode, treating as miss")
		return false
	}

	return true
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cache: mkdir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("cache: write temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cache: rename: %w", err)
	}

	return nil
}

// --- folders ------------------------------------------------------------

// GetFolders returns the cached folder set. A missing or corrupt folders
// file is reported as an empty set, not an error.
func (s *Store) GetFolders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(filepath.Join(s.dir, "folders"))
	if err != nil {
		return nil
	}

	var folders []string
	if !s.decodeBlob(raw, &folders) {
		return nil
	}

	return folders
}

// PutFolders persists the folder set, sorted for deterministic output.
func (s *Store) PutFolders(folders []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := append([]string(nil), folders...)
	sort.Strings(sorted)

	data, err := s.encodeBlob(sorted)
	if err != nil {
		return err
	}

	return writeFileAtomic(filepath.Join(s.dir, "folders"), data)
}

// --- uids -----------------------------------------------------------------

// GetUids returns the cached UID set for folder, or nil if absent.
func (s *Store) GetUids(folder string) map[uint32]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(filepath.Join(s.folderDir(folder), "uids"))
	if err != nil {
		return nil
	}

	var list []uint32
	if !s.decodeBlob(raw, &list) {
		return nil
	}

	set := make(map[uint32]struct{}, len(list))
	for _, uid := range list {
		set[uid] = struct{}{}
	}
	return set
}

// PutUids overwrites the cached UID set for folder.
func (s *Store) PutUids(folder string, uids map[uint32]struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]uint32, 0, len(uids))
	for uid := range uids {
		list = append(list, uid)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })

	data, err := s.encodeBlob(list)
	if err != nil {
		return err
	}

	return writeFileAtomic(filepath.Join(s.folderDir(folder), "uids"), data)
}

// --- headers --------------------------------------------------------------

// GetHeaders returns whichever of uids have a cached header, silently
// omitting any that are missing or fail to decrypt/decode.
func (s *Store) GetHeaders(folder string, uids []uint32) map[uint32]Header {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[uint32]Header, len(uids))
	for _, uid := range uids {
		raw, err := os.ReadFile(s.headerPath(folder, uid))
		if err != nil {
			continue
		}

		var h Header
		if s.decodeBlob(raw, &h) {
			out[uid] = h
		}
	}
	return out
}

// PutHeader atomically writes the header for (folder, uid).
func (s *Store) PutHeader(folder string, uid uint32, h Header) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.encodeBlob(h)
	if err != nil {
		return err
	}

	return writeFileAtomic(s.headerPath(folder, uid), data)
}

func (s *Store) headerPath(folder string, uid uint32) string {
	return filepath.Join(s.folderDir(folder), "h", strconv.FormatUint(uint64(uid), 10))
}

// --- bodies -----------------------------------------------------------------

// GetBody returns the cached body for (folder, uid), and whether it was
// found and decoded successfully. Per spec §3, a present Body implies a
// present Header, but that invariant is the caller's responsibility to
// maintain by always calling PutHeader before PutBody.
func (s *Store) GetBody(folder string, uid uint32) (Body, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.bodyPath(folder, uid))
	if err != nil {
		return Body{}, false
	}

	var b Body
	if !s.decodeBlob(raw, &b) {
		return Body{}, false
	}
	return b, true
}

// PutBody atomically writes the body for (folder, uid).
func (s *Store) PutBody(folder string, uid uint32, b Body) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.encodeBlob(b)
	if err != nil {
		return err
	}

	return writeFileAtomic(s.bodyPath(folder, uid), data)
}

func (s *Store) bodyPath(folder string, uid uint32) string {
	return filepath.Join(s.folderDir(folder), "b", strconv.FormatUint(uint64(uid), 10))
}

// --- flags ------------------------------------------------------------------

// GetFlags returns the cached flags for (folder, uid), and whether present.
func (s *Store) GetFlags(folder string, uid uint32) (Flags, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.flagsPath(folder, uid))
	if err != nil {
		return 0, false
	}

	var f Flags
	if !s.decodeBlob(raw, &f) {
		return 0, false
	}
	return f, true
}

// PutFlags atomically writes the flags for (folder, uid).
func (s *Store) PutFlags(folder string, uid uint32, f Flags) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.encodeBlob(f)
	if err != nil {
		return err
	}

	return writeFileAtomic(s.flagsPath(folder, uid), data)
}

func (s *Store) flagsPath(folder string, uid uint32) string {
	return filepath.Join(s.folderDir(folder), "f", strconv.FormatUint(uint64(uid), 10))
}

// --- date index ---------------------------------------------------------

// GetDateIndex returns the folder's UID-to-date map, used to order
// messages stably by server date across sessions (spec §3: DateIndex).
func (s *Store) GetDateIndex(folder string) map[uint32]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(filepath.Join(s.folderDir(folder), "dates"))
	if err != nil {
		return nil
	}

	plain := raw
	if s.encrypt {
		p, err := s.envelope.Decrypt(raw)
		if err != nil {
			s.log.Debug().Err(err).Msg("date index failed to decrypt, treating as miss")
			return nil
		}
		plain = p
	}

	lines := strings.Split(strings.TrimRight(string(plain), "\n"), "\n")
	out := make(map[uint32]time.Time, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		uid, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			continue
		}
		t, err := time.Parse(time.RFC3339, parts[1])
		if err != nil {
			continue
		}
		out[uint32(uid)] = t
	}
	return out
}

// PutDateIndex overwrites the folder's entire date index. This file is
// never encrypted through the gob blob path since it is already a plain
// newline-delimited format per spec §4.2's documented layout; it is still
// passed through the envelope when cache_encrypt=1 for consistency with
// every other blob in the tree.
func (s *Store) PutDateIndex(folder string, index map[uint32]time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	uids := make([]uint32, 0, len(index))
	for uid := range index {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	var buf bytes.Buffer
	for _, uid := range uids {
		fmt.Fprintf(&buf, "%d\t%s\n", uid, index[uid].UTC().Format(time.RFC3339))
	}

	data := buf.Bytes()
	if s.encrypt {
		enc, err := s.envelope.Encrypt(data)
		if err != nil {
			return err
		}
		data = enc
	}

	return writeFileAtomic(filepath.Join(s.folderDir(folder), "dates"), data)
}

// --- deletion -------------------------------------------------------------

// Expunge removes every per-UID blob and date-index row for (folder, uid).
// Per spec §3, stale DateIndex entries must be purged on observing expunge.
func (s *Store) Expunge(folder string, uid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range []string{s.headerPath(folder, uid), s.bodyPath(folder, uid), s.flagsPath(folder, uid)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cache: expunge: %w", err)
		}
	}

	return s.removeDateLocked(folder, uid)
}

func (s *Store) removeDateLocked(folder string, uid uint32) error {
	path := filepath.Join(s.folderDir(folder), "dates")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return nil
	}

	plain := raw
	if s.encrypt {
		p, err := s.envelope.Decrypt(raw)
		if err != nil {
			return nil
		}
		plain = p
	}

	lines := strings.Split(strings.TrimRight(string(plain), "\n"), "\n")
	kept := make([]string, 0, len(lines))
	prefix := strconv.FormatUint(uint64(uid), 10) + "\t"
	for _, line := range lines {
		if line == "" || strings.HasPrefix(line, prefix) {
			continue
		}
		kept = append(kept, line)
	}

	data := []byte(strings.Join(kept, "\n"))
	if len(kept) > 0 {
		data = append(data, '\n')
	}
	if s.encrypt {
		enc, err := s.envelope.Encrypt(data)
		if err != nil {
			return err
		}
		data = enc
	}

	return writeFileAtomic(path, data)
}

// ForgetFolder recursively removes a folder's entire cache subtree.
func (s *Store) ForgetFolder(folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.folderDir(folder)); err != nil {
		return fmt.Errorf("cache: forget folder: %w", err)
	}
	return nil
}
