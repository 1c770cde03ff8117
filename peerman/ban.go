package peerman

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/chainwatch/hcd/errors"
	"github.com/chainwatch/hcd/peer"
)

// discouragementTTL is how long an in-memory discouragement lasts.
const discouragementTTL = 24 * time.Hour

// maxDiscouragements bounds the discouragement set; the oldest-expiring
// entry is evicted to make room once full.
const maxDiscouragements = 10000

const banFileVersion = 1

type banEntry struct {
	CreatedAt int64 `json:"created_at"`
	ExpiresAt int64 `json:"expires_at"` // 0 means permanent
}

type banFile struct {
	Version int                 `json:"version"`
	Bans    map[string]banEntry `json:"bans"`
}

// banStore holds persistent bans (JSON file, atomic write) and in-memory
// discouragements (capped, 24h expiry), per spec.md §4.3.
type banStore struct {
	path  string
	clock peer.Clock

	mu    sync.Mutex
	bans  map[string]banEntry
	dirty bool

	discourageMu sync.Mutex
	discourage   map[string]time.Time
}

func newBanStore(path string, clock peer.Clock) *banStore {
	if clock == nil {
		clock = peer.RealClock()
	}
	return &banStore{
		path:       path,
		clock:      clock,
		bans:       make(map[string]banEntry),
		discourage: make(map[string]time.Time),
	}
}

// normalizeHost validates host as an IP and returns its canonical string
// form, rejecting anything that doesn't parse.
func normalizeHost(host string) (string, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		return "", errors.New(errors.ERR_CONFIGURATION, "invalid ip %q", host)
	}
	return ip.String(), nil
}

func (s *banStore) ban(host string, duration time.Duration) error {
	ip, err := normalizeHost(host)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	entry := banEntry{CreatedAt: now.Unix()}
	if duration > 0 {
		entry.ExpiresAt = now.Add(duration).Unix()
	}

	s.mu.Lock()
	s.bans[ip] = entry
	s.dirty = true
	s.mu.Unlock()
	return nil
}

func (s *banStore) unban(host string) error {
	ip, err := normalizeHost(host)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.bans[ip]; ok {
		delete(s.bans, ip)
		s.dirty = true
	}
	s.mu.Unlock()
	return nil
}

// isBanned reports whether host is under an unexpired persistent ban or a
// live discouragement. No allowlist is consulted, here or in node wiring.
func (s *banStore) isBanned(host string) bool {
	ip, err := normalizeHost(host)
	if err != nil {
		return false
	}
	now := s.clock.Now()

	s.mu.Lock()
	entry, ok := s.bans[ip]
	s.mu.Unlock()
	if ok && (entry.ExpiresAt == 0 || now.Unix() < entry.ExpiresAt) {
		return true
	}

	s.discourageMu.Lock()
	expiry, discouraged := s.discourage[ip]
	s.discourageMu.Unlock()
	return discouraged && now.Before(expiry)
}

// discourage adds host to the in-memory discouragement set, evicting the
// entry closest to expiry if the set is at capacity.
func (s *banStore) discourage(host string) {
	ip, err := normalizeHost(host)
	if err != nil {
		return
	}
	now := s.clock.Now()

	s.discourageMu.Lock()
	defer s.discourageMu.Unlock()

	if _, exists := s.discourage[ip]; !exists && len(s.discourage) >= maxDiscouragements {
		var oldestKey string
		var oldestExpiry time.Time
		first := true
		for k, exp := range s.discourage {
			if first || exp.Before(oldestExpiry) {
				oldestKey, oldestExpiry, first = k, exp, false
			}
		}
		if oldestKey != "" {
			delete(s.discourage, oldestKey)
		}
	}
	s.discourage[ip] = now.Add(discouragementTTL)
}

// sweep drops expired bans and discouragements.
func (s *banStore) sweep() {
	now := s.clock.Now()

	s.mu.Lock()
	for ip, e := range s.bans {
		if e.ExpiresAt != 0 && now.Unix() >= e.ExpiresAt {
			delete(s.bans, ip)
			s.dirty = true
		}
	}
	s.mu.Unlock()

	s.discourageMu.Lock()
	for ip, exp := range s.discourage {
		if !now.Before(exp) {
			delete(s.discourage, ip)
		}
	}
	s.discourageMu.Unlock()
}

func (s *banStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.New(errors.ERR_IO, "read ban file", err)
	}
	var bf banFile
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &bf); err != nil {
		return errors.New(errors.ERR_IO, "unmarshal ban file", err)
	}
	s.mu.Lock()
	if bf.Bans == nil {
		bf.Bans = make(map[string]banEntry)
	}
	s.bans = bf.Bans
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// save writes the ban file atomically (temp file + fsync + rename, mode
// 0600) if there are unsaved changes.
func (s *banStore) save() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	bf := banFile{Version: banFileVersion, Bans: make(map[string]banEntry, len(s.bans))}
	for k, v := range s.bans {
		bf.Bans[k] = v
	}
	s.mu.Unlock()

	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(bf, "", "  ")
	if err != nil {
		return errors.New(errors.ERR_IO, "marshal ban file", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".banlist-*.tmp")
	if err != nil {
		return errors.New(errors.ERR_IO, "create ban file temp", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.New(errors.ERR_IO, "write ban file temp", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.New(errors.ERR_IO, "fsync ban file temp", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.New(errors.ERR_IO, "close ban file temp", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return errors.New(errors.ERR_IO, "chmod ban file temp", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.New(errors.ERR_IO, "rename ban file into place", err)
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}
