// Package store implements the on-disk side of spec.md §6's "Disk layout":
// one RouterInfo file per known router sharded by the first base64
// character of its ident hash, the local router's private key bundle and
// published RouterInfo, and persistent destination keys. It is the
// load/save half of internal/netdb's in-memory Store; nothing here is
// consulted on the hot lookup path.
package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-i2p/i2pcore/internal/crypto"
	"github.com/go-i2p/i2pcore/internal/identity"
)

// netDbDirName and keyFileName match spec.md §6's literal paths:
// "netDb/rX/routerInfo-<base64-hash>.dat" and "router.keys" / "router.info".
const (
	netDbDirName        = "netDb"
	routerKeysFileName  = "router.keys"
	routerInfoFileName  = "router.info"
	destinationsDirName = "destinations"
)

// RouterInfoStore persists RouterInfos under <dir>/netDb/rX/routerInfo-<base64>.dat,
// sharded the same way internal/netdb.ProfileStore shards peer profiles.
type RouterInfoStore struct {
	dir string
}

// New returns a RouterInfoStore rooted at dir (the router's data directory;
// files live under dir/netDb).
func New(dir string) *RouterInfoStore {
	return &RouterInfoStore{dir: filepath.Join(dir, netDbDirName)}
}

func (s *RouterInfoStore) path(hash identity.IdentHash) string {
	b64 := crypto.Base64Encode(hash.Bytes())
	shard := "r_"
	if len(b64) > 0 {
		shard = "r" + string(b64[0])
	}
	return filepath.Join(s.dir, shard, "routerInfo-"+b64+".dat")
}

// Save writes ri's serialized bytes to its sharded path, creating the shard
// directory if needed.
func (s *RouterInfoStore) Save(ri *identity.RouterInfo) error {
	path := s.path(ri.IdentHash())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: creating netdb shard directory: %w", err)
	}
	if err := os.WriteFile(path, ri.Serialize(), 0o644); err != nil {
		return fmt.Errorf("store: writing router info %s: %w", ri.IdentHash(), err)
	}
	return nil
}

// Remove deletes hash's on-disk RouterInfo, if present.
func (s *RouterInfoStore) Remove(hash identity.IdentHash) error {
	err := os.Remove(s.path(hash))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: removing router info %s: %w", hash, err)
	}
	return nil
}

// LoadAll walks every shard directory and parses every routerInfo-*.dat
// file it finds, skipping (and reporting) files that fail to parse rather
// than aborting the whole load — a single corrupt file on disk must not
// prevent the router from starting with the rest of its known peers.
func (s *RouterInfoStore) LoadAll() ([]*identity.RouterInfo, []error) {
	var infos []*identity.RouterInfo
	var errs []error

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("store: reading netdb directory: %w", err)}
	}

	for _, shard := range entries {
		if !shard.IsDir() {
			continue
		}
		shardPath := filepath.Join(s.dir, shard.Name())
		files, err := os.ReadDir(shardPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("store: reading shard %s: %w", shard.Name(), err))
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasPrefix(f.Name(), "routerInfo-") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(shardPath, f.Name()))
			if err != nil {
				errs = append(errs, fmt.Errorf("store: reading %s: %w", f.Name(), err))
				continue
			}
			ri, err := identity.ParseRouterInfo(data)
			if err != nil {
				errs = append(errs, fmt.Errorf("store: parsing %s: %w", f.Name(), err))
				continue
			}
			infos = append(infos, ri)
		}
	}
	return infos, errs
}

// LoadBootstrapFile parses a static reseed-free bootstrap file (SUPPLEMENTED
// FEATURE: "Reseed-free bootstrap from a static seed list"): a sequence of
// RouterInfo records, each framed as a 4-byte big-endian length prefix
// followed by that many bytes of identity.RouterInfo.Serialize output, the
// same uint32 length-prefixing internal/garlic and internal/i2np use for
// their own variable-length fields. A malformed trailing record is reported
// but does not discard the records already parsed.
func LoadBootstrapFile(path string) ([]*identity.RouterInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("store: reading bootstrap file: %w", err)
	}

	var infos []*identity.RouterInfo
	for len(data) > 0 {
		if len(data) < 4 {
			return infos, fmt.Errorf("store: bootstrap file has a truncated length prefix")
		}
		n := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if uint64(len(data)) < uint64(n) {
			return infos, fmt.Errorf("store: bootstrap file record truncated: want %d bytes, have %d", n, len(data))
		}
		record := data[:n]
		data = data[n:]

		ri, err := identity.ParseRouterInfo(record)
		if err != nil {
			return infos, fmt.Errorf("store: parsing bootstrap record: %w", err)
		}
		infos = append(infos, ri)
	}
	return infos, nil
}

// LocalKeys is the local router's private key bundle persisted to
// router.keys (spec.md §6: "the local router's private key bundle and
// current published RouterInfo").
type LocalKeys struct {
	EncryptionPrivateKey crypto.ElGamalPrivateKey
	SigningPrivateKey    []byte
	SigType              crypto.SigType
}

// LocalKeyStore persists the local router's keys and published RouterInfo
// at the data directory root, matching spec.md §6's flat "router.keys" /
// "router.info" naming (unsharded — there is exactly one of each per
// router, unlike the per-peer RouterInfo and profile stores).
type LocalKeyStore struct {
	dir string
}

// NewLocalKeyStore returns a LocalKeyStore rooted at dir.
func NewLocalKeyStore(dir string) *LocalKeyStore {
	return &LocalKeyStore{dir: dir}
}

func (s *LocalKeyStore) keysPath() string { return filepath.Join(s.dir, routerKeysFileName) }
func (s *LocalKeyStore) infoPath() string { return filepath.Join(s.dir, routerInfoFileName) }

// SaveKeys writes the local private key bundle. The encryption private key
// and signing private key are concatenated with a one-byte sig-type tag so
// LoadKeys can size the signing key correctly on read without a separate
// manifest.
func (s *LocalKeyStore) SaveKeys(k LocalKeys) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("store: creating data directory: %w", err)
	}
	out := make([]byte, 0, len(k.EncryptionPrivateKey)+1+len(k.SigningPrivateKey))
	out = append(out, k.EncryptionPrivateKey[:]...)
	out = append(out, byte(k.SigType))
	out = append(out, k.SigningPrivateKey...)
	return os.WriteFile(s.keysPath(), out, 0o600)
}

// LoadKeys reads back a previously saved local key bundle.
func (s *LocalKeyStore) LoadKeys() (LocalKeys, error) {
	var k LocalKeys
	data, err := os.ReadFile(s.keysPath())
	if err != nil {
		return k, fmt.Errorf("store: reading router keys: %w", err)
	}
	encSize := len(k.EncryptionPrivateKey)
	if len(data) < encSize+1 {
		return k, fmt.Errorf("store: router.keys file truncated")
	}
	copy(k.EncryptionPrivateKey[:], data[:encSize])
	k.SigType = crypto.SigType(data[encSize])
	want := k.SigType.PrivateKeySize()
	if len(data) != encSize+1+want {
		return k, fmt.Errorf("store: router.keys signing key is %d bytes, want %d for %s", len(data)-encSize-1, want, k.SigType)
	}
	k.SigningPrivateKey = append([]byte(nil), data[encSize+1:]...)
	return k, nil
}

// SaveRouterInfo persists the local router's current published RouterInfo
// to router.info.
func (s *LocalKeyStore) SaveRouterInfo(ri *identity.RouterInfo) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("store: creating data directory: %w", err)
	}
	return os.WriteFile(s.infoPath(), ri.Serialize(), 0o644)
}

// LoadRouterInfo reads back the local router's last-published RouterInfo,
// if any was ever saved.
func (s *LocalKeyStore) LoadRouterInfo() (*identity.RouterInfo, error) {
	data, err := os.ReadFile(s.infoPath())
	if err != nil {
		return nil, fmt.Errorf("store: reading router.info: %w", err)
	}
	return identity.ParseRouterInfo(data)
}

// DestinationStore persists local destinations' keys under
// destinations/<name>.dat (spec.md §6).
type DestinationStore struct {
	dir string
}

// NewDestinationStore returns a DestinationStore rooted at dir.
func NewDestinationStore(dir string) *DestinationStore {
	return &DestinationStore{dir: filepath.Join(dir, destinationsDirName)}
}

func (s *DestinationStore) path(name string) string {
	return filepath.Join(s.dir, name+".dat")
}

// Save persists a destination's identity and raw private keys under name.
// The wire form mirrors LocalKeys: encryption private key, a sig-type tag,
// then the signing private key.
func (s *DestinationStore) Save(name string, encPriv crypto.ElGamalPrivateKey, sigType crypto.SigType, sigPriv []byte) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("store: creating destinations directory: %w", err)
	}
	out := make([]byte, 0, len(encPriv)+1+len(sigPriv))
	out = append(out, encPriv[:]...)
	out = append(out, byte(sigType))
	out = append(out, sigPriv...)
	return os.WriteFile(s.path(name), out, 0o600)
}

// Load reads back a previously saved destination's keys.
func (s *DestinationStore) Load(name string) (encPriv crypto.ElGamalPrivateKey, sigType crypto.SigType, sigPriv []byte, err error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return encPriv, 0, nil, fmt.Errorf("store: reading destination %q: %w", name, err)
	}
	encSize := len(encPriv)
	if len(data) < encSize+1 {
		return encPriv, 0, nil, fmt.Errorf("store: destination %q file truncated", name)
	}
	copy(encPriv[:], data[:encSize])
	sigType = crypto.SigType(data[encSize])
	want := sigType.PrivateKeySize()
	if len(data) != encSize+1+want {
		return encPriv, 0, nil, fmt.Errorf("store: destination %q signing key is %d bytes, want %d", name, len(data)-encSize-1, want)
	}
	return encPriv, sigType, append([]byte(nil), data[encSize+1:]...), nil
}

// List returns the names of every persisted destination.
func (s *DestinationStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: reading destinations directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".dat"))
	}
	return names, nil
}
