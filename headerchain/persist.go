package headerchain

import (
	"encoding/hex"
	"math/big"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/chainwatch/hcd/errors"
	"github.com/chainwatch/hcd/wire"
	"github.com/libsv/go-bt/v2/chainhash"
)

const headersFileVersion = 1

type fileHeader struct {
	Hash         string `json:"hash"`
	Version      int32  `json:"version"`
	Time         uint32 `json:"time"`
	Bits         uint32 `json:"bits"`
	Nonce        uint32 `json:"nonce"`
	PrevBlock    string `json:"prev_hash"`
	MinerAddress string `json:"miner_address"`
	PowHash      string `json:"pow_hash"`
	Height       int64  `json:"height"`
	ChainWork    string `json:"chainwork"`
	Status       uint8  `json:"status"`
}

type headersFile struct {
	Version     int          `json:"version"`
	GenesisHash string       `json:"genesis_hash"`
	TipHash     string       `json:"tip_hash"`
	Headers     []fileHeader `json:"headers"`
}

func toFileHeader(idx *BlockIndex) fileHeader {
	fh := fileHeader{
		Hash:         idx.Hash.String(),
		Version:      idx.Header.Version,
		Time:         idx.Header.Time,
		Bits:         idx.Header.Bits,
		Nonce:        idx.Header.Nonce,
		PrevBlock:    idx.Header.PrevBlock.String(),
		MinerAddress: hex.EncodeToString(idx.Header.MinerAddress[:]),
		PowHash:      hex.EncodeToString(idx.Header.PowHash[:]),
		Height:       idx.Height,
		ChainWork:    idx.ChainWork.Text(16),
		Status:       uint8(idx.Status),
	}
	return fh
}

// Save atomically writes the block index and active-chain tip to path.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	hf := headersFile{
		Version:     headersFileVersion,
		GenesisHash: s.params.GenesisHash.String(),
		TipHash:     s.tip.Hash.String(),
	}
	for _, idx := range s.index {
		hf.Headers = append(hf.Headers, toFileHeader(idx))
	}
	s.mu.RUnlock()

	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(hf, "", "  ")
	if err != nil {
		return errors.New(errors.ERR_IO, "marshal header chain", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".headers-*.tmp")
	if err != nil {
		return errors.New(errors.ERR_IO, "create header chain temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.New(errors.ERR_IO, "write header chain temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.New(errors.ERR_IO, "close header chain temp file", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return errors.New(errors.ERR_IO, "chmod header chain temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.New(errors.ERR_IO, "rename header chain into place", err)
	}
	return nil
}

// Load replaces s's index and tip with what's stored at path. A missing
// file is not an error. A saved genesis hash that doesn't match the
// store's configured genesis is rejected outright (the file belongs to a
// different network). Corrupt JSON or a wrong version leaves the store
// at its current state (freshly-initialized genesis-only, if called right
// after NewStore).
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.New(errors.ERR_IO, "read header chain", err)
	}

	var hf headersFile
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &hf); err != nil {
		return nil
	}
	if hf.Version != headersFileVersion {
		return nil
	}

	s.mu.RLock()
	wantGenesis := s.params.GenesisHash.String()
	s.mu.RUnlock()
	if hf.GenesisHash != wantGenesis {
		return errors.New(errors.ERR_CONFIGURATION, "header chain file genesis %s does not match configured genesis %s", hf.GenesisHash, wantGenesis)
	}

	byHash := make(map[chainhash.Hash]*BlockIndex, len(hf.Headers))
	parents := make(map[chainhash.Hash]chainhash.Hash, len(hf.Headers))

	for _, fh := range hf.Headers {
		hash, err := chainhash.NewHashFromStr(fh.Hash)
		if err != nil {
			return nil
		}
		prevHash, err := chainhash.NewHashFromStr(fh.PrevBlock)
		if err != nil {
			return nil
		}
		miner, err := hex.DecodeString(fh.MinerAddress)
		if err != nil || len(miner) != 20 {
			return nil
		}
		pow, err := hex.DecodeString(fh.PowHash)
		if err != nil || len(pow) != 32 {
			return nil
		}
		work, ok := new(big.Int).SetString(fh.ChainWork, 16)
		if !ok {
			return nil
		}

		header := &wire.BlockHeader{
			Version:   fh.Version,
			Time:      fh.Time,
			Bits:      fh.Bits,
			Nonce:     fh.Nonce,
			PrevBlock: *prevHash,
		}
		copy(header.MinerAddress[:], miner)
		copy(header.PowHash[:], pow)

		idx := &BlockIndex{
			Hash:      *hash,
			Header:    header,
			Height:    fh.Height,
			ChainWork: work,
			Status:    Status(fh.Status),
		}
		byHash[*hash] = idx
		parents[*hash] = *prevHash
	}

	for hash, idx := range byHash {
		if parent, ok := byHash[parents[hash]]; ok {
			idx.Parent = parent
		}
	}

	tipHash, err := chainhash.NewHashFromStr(hf.TipHash)
	if err != nil {
		return nil
	}
	tip, ok := byHash[*tipHash]
	if !ok {
		return nil
	}

	leaves := make(map[chainhash.Hash]*BlockIndex)
	hasChild := make(map[chainhash.Hash]bool)
	for _, idx := range byHash {
		if idx.Parent != nil {
			hasChild[idx.Parent.Hash] = true
		}
	}
	for hash, idx := range byHash {
		if !hasChild[hash] && idx.IsValid() {
			leaves[hash] = idx
		}
	}

	s.mu.Lock()
	s.index = byHash
	s.leaves = leaves
	s.tip = tip
	s.mu.Unlock()
	return nil
}
