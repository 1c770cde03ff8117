package discovery

import (
	"net"
	"os"
	"path/filepath"
	"sort"

	jsoniter "github.com/json-iterator/go"

	"github.com/chainwatch/hcd/errors"
	"github.com/chainwatch/hcd/peer"
	"github.com/chainwatch/hcd/peerman"
	"github.com/chainwatch/hcd/wire"
)

// maxAnchors is how many anchor addresses anchors.json carries, per spec.md
// §6.
const maxAnchors = 2

const anchorsFileVersion = 1

type anchorEntry struct {
	IP       string `json:"ip"`
	Port     uint16 `json:"port"`
	Services uint64 `json:"services"`
}

type anchorsFile struct {
	Version int           `json:"version"`
	Anchors []anchorEntry `json:"anchors"`
}

// SelectAnchors picks up to maxAnchors outbound, fully-handshaked peers to
// remember as anchors, ranked by oldest connection first, lowest ping as
// tiebreak, per spec.md §6.
func SelectAnchors(mgr *peerman.Manager) []wire.NetAddress {
	type candidate struct {
		addr    wire.NetAddress
		created int64
		ping    int64
	}
	var candidates []candidate

	mgr.ForEach(func(r *peerman.PeerRecord) bool {
		if !r.Conn.IsOutbound() || r.Conn.IsFeeler() || r.Conn.State() != peer.StateReady {
			return true
		}
		host, _, err := net.SplitHostPort(r.Conn.RemoteAddr())
		if err != nil {
			return true
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return true
		}
		var services wire.ServiceFlag
		if v := r.Conn.RemoteVersion(); v != nil {
			services = v.Services
		}
		candidates = append(candidates, candidate{
			addr:    wire.NetAddress{Services: services, IP: ip, Port: r.Conn.RemotePort()},
			created: r.Created.UnixNano(),
			ping:    int64(r.Conn.LastPingRTT()),
		})
		return true
	})

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].created != candidates[j].created {
			return candidates[i].created < candidates[j].created
		}
		return candidates[i].ping < candidates[j].ping
	})

	if len(candidates) > maxAnchors {
		candidates = candidates[:maxAnchors]
	}
	out := make([]wire.NetAddress, len(candidates))
	for i, c := range candidates {
		out[i] = c.addr
	}
	return out
}

// SaveAnchors atomically writes addrs (at most maxAnchors of them) to path.
func SaveAnchors(path string, addrs []wire.NetAddress) error {
	if len(addrs) > maxAnchors {
		addrs = addrs[:maxAnchors]
	}
	af := anchorsFile{Version: anchorsFileVersion}
	for _, a := range addrs {
		af.Anchors = append(af.Anchors, anchorEntry{
			IP:       a.IP.String(),
			Port:     a.Port,
			Services: uint64(a.Services),
		})
	}

	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(af, "", "  ")
	if err != nil {
		return errors.New(errors.ERR_IO, "marshal anchors", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".anchors-*.tmp")
	if err != nil {
		return errors.New(errors.ERR_IO, "create anchors temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.New(errors.ERR_IO, "write anchors temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.New(errors.ERR_IO, "close anchors temp file", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return errors.New(errors.ERR_IO, "chmod anchors temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.New(errors.ERR_IO, "rename anchors into place", err)
	}
	return nil
}

// LoadAndDeleteAnchors reads path, if present, and removes it immediately —
// anchors.json is single-use per spec.md §6 ("read and deleted atomically
// on next startup"). A missing file returns no addresses and no error.
// Corrupt JSON or a wrong version is treated the same as a missing file.
func LoadAndDeleteAnchors(path string) []wire.NetAddress {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	os.Remove(path)

	var af anchorsFile
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &af); err != nil {
		return nil
	}
	if af.Version != anchorsFileVersion {
		return nil
	}

	out := make([]wire.NetAddress, 0, len(af.Anchors))
	for _, e := range af.Anchors {
		ip := net.ParseIP(e.IP)
		if ip == nil {
			continue
		}
		out = append(out, wire.NetAddress{Services: wire.ServiceFlag(e.Services), IP: ip, Port: e.Port})
	}
	return out
}
