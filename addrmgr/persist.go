package addrmgr

import (
	"net"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/chainwatch/hcd/errors"
	"github.com/chainwatch/hcd/wire"
)

const addrFileVersion = 1

type fileEntry struct {
	IP               string `json:"ip"`
	Port             uint16 `json:"port"`
	Services         uint64 `json:"services"`
	Src              string `json:"src,omitempty"`
	LastSeen         int64  `json:"last_seen"`
	LastTry          int64  `json:"last_try"`
	LastSuccess      int64  `json:"last_success"`
	LastCountAttempt int64  `json:"last_count_attempt"`
	Attempts         int    `json:"attempts"`
}

type addrFile struct {
	Version  int         `json:"version"`
	LastGood int64       `json:"last_good"`
	New      []fileEntry `json:"new"`
	Tried    []fileEntry `json:"tried"`
}

func toFileEntry(e *entry) fileEntry {
	fe := fileEntry{
		IP:       e.addr.IP.String(),
		Port:     e.addr.Port,
		Services: uint64(e.addr.Services),
		LastSeen: e.lastSeen.Unix(),
		Attempts: e.attempts,
	}
	if e.src != nil {
		fe.Src = e.src.String()
	}
	if !e.lastTry.IsZero() {
		fe.LastTry = e.lastTry.Unix()
	}
	if !e.lastSuccess.IsZero() {
		fe.LastSuccess = e.lastSuccess.Unix()
	}
	if !e.lastCountAttempt.IsZero() {
		fe.LastCountAttempt = e.lastCountAttempt.Unix()
	}
	return fe
}

func fromFileEntry(fe fileEntry, tried bool) (*entry, error) {
	ip := net.ParseIP(fe.IP)
	if ip == nil {
		return nil, errors.New(errors.ERR_IO, "address book entry has unparsable ip %q", fe.IP)
	}
	e := &entry{
		addr:     wire.NetAddress{Services: wire.ServiceFlag(fe.Services), IP: ip, Port: fe.Port},
		lastSeen: time.Unix(fe.LastSeen, 0),
		attempts: fe.Attempts,
		tried:    tried,
	}
	if fe.Src != "" {
		e.src = net.ParseIP(fe.Src)
	}
	if fe.LastTry != 0 {
		e.lastTry = time.Unix(fe.LastTry, 0)
	}
	if fe.LastSuccess != 0 {
		e.lastSuccess = time.Unix(fe.LastSuccess, 0)
	}
	if fe.LastCountAttempt != 0 {
		e.lastCountAttempt = time.Unix(fe.LastCountAttempt, 0)
	}
	return e, nil
}

// Save atomically writes the address book to path (temp file in the same
// directory, then rename), mode 0600.
func (m *AddrManager) Save(path string) error {
	m.mu.RLock()
	af := addrFile{Version: addrFileVersion, LastGood: m.lastGood.Unix()}
	for _, k := range m.newKeys {
		if e, ok := m.newTable[k]; ok {
			af.New = append(af.New, toFileEntry(e))
		}
	}
	for _, k := range m.triedKeys {
		if e, ok := m.triedTbl[k]; ok {
			af.Tried = append(af.Tried, toFileEntry(e))
		}
	}
	m.mu.RUnlock()

	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(af, "", "  ")
	if err != nil {
		return errors.New(errors.ERR_IO, "marshal address book", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".addrbook-*.tmp")
	if err != nil {
		return errors.New(errors.ERR_IO, "create address book temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.New(errors.ERR_IO, "write address book temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.New(errors.ERR_IO, "close address book temp file", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return errors.New(errors.ERR_IO, "chmod address book temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.New(errors.ERR_IO, "rename address book into place", err)
	}
	return nil
}

// Load replaces m's contents with what's stored at path, rebuilding the key
// vectors from the restored maps. A missing file is not an error: it
// leaves m empty, as on first run.
func (m *AddrManager) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.New(errors.ERR_IO, "read address book", err)
	}

	var af addrFile
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &af); err != nil {
		return errors.New(errors.ERR_IO, "unmarshal address book", err)
	}

	newTable := make(map[addrKey]*entry, len(af.New))
	var newKeys []addrKey
	for _, fe := range af.New {
		e, err := fromFileEntry(fe, false)
		if err != nil {
			return err
		}
		k := newKey(e.addr.IP, e.addr.Port)
		newTable[k] = e
		newKeys = append(newKeys, k)
	}

	triedTbl := make(map[addrKey]*entry, len(af.Tried))
	var triedKeys []addrKey
	for _, fe := range af.Tried {
		e, err := fromFileEntry(fe, true)
		if err != nil {
			return err
		}
		k := newKey(e.addr.IP, e.addr.Port)
		triedTbl[k] = e
		triedKeys = append(triedKeys, k)
	}

	lastGood := time.Unix(1, 0)
	if af.LastGood != 0 {
		lastGood = time.Unix(af.LastGood, 0)
	}

	m.mu.Lock()
	m.newTable, m.newKeys = newTable, newKeys
	m.triedTbl, m.triedKeys = triedTbl, triedKeys
	m.lastGood = lastGood
	m.mu.Unlock()
	return nil
}
