package netdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/go-i2p/i2pcore/internal/crypto"
	"github.com/go-i2p/i2pcore/internal/identity"
)

// PeerProfile tracks a peer's tunnel-build and tunnel-test reliability
// (SUPPLEMENTED FEATURES: peer profiles, consulted by the tunnel pool's hop
// filter). Distilled out of spec.md but present in i2pd's PeerProfile
// tracking referenced from hop selection.
type PeerProfile struct {
	Accepted    int       `yaml:"accepted"`
	Rejected    int       `yaml:"rejected"`
	TestsPassed int       `yaml:"tests_passed"`
	TestsFailed int       `yaml:"tests_failed"`
	Updated     time.Time `yaml:"updated"`
}

// AcceptRatio is the fraction of tunnel build requests this peer has
// accepted, used by hop selection to prefer reliable peers.
func (p *PeerProfile) AcceptRatio() float64 {
	total := p.Accepted + p.Rejected
	if total == 0 {
		return 1
	}
	return float64(p.Accepted) / float64(total)
}

// TestPassRatio is the fraction of tunnel tests through this peer that
// succeeded.
func (p *PeerProfile) TestPassRatio() float64 {
	total := p.TestsPassed + p.TestsFailed
	if total == 0 {
		return 1
	}
	return float64(p.TestsPassed) / float64(total)
}

// ProfileStore persists PeerProfiles under
// peerProfiles/pX/profile-<base64-hash>.txt (spec.md §6 "Disk layout"
// extended with the SUPPLEMENTED peer-profile feature), sharded by the
// first character of the hash's base64 encoding the same way the
// RouterInfo store is sharded by first character under netDb/.
type ProfileStore struct {
	dir string

	mu       sync.Mutex
	profiles map[identity.IdentHash]*PeerProfile
}

// NewProfileStore returns a profile store rooted at dir (typically
// "<datadir>/peerProfiles").
func NewProfileStore(dir string) *ProfileStore {
	return &ProfileStore{dir: dir, profiles: make(map[identity.IdentHash]*PeerProfile)}
}

func (s *ProfileStore) path(hash identity.IdentHash) string {
	b64 := crypto.Base64Encode(hash.Bytes())
	shard := "p_"
	if len(b64) > 0 {
		shard = "p" + string(b64[0])
	}
	return filepath.Join(s.dir, shard, "profile-"+b64+".txt")
}

// Get returns the in-memory profile for hash, lazily loading it from disk
// (or creating a fresh zero-value profile) on first access.
func (s *ProfileStore) Get(hash identity.IdentHash) *PeerProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[hash]; ok {
		return p
	}
	p := s.loadLocked(hash)
	s.profiles[hash] = p
	return p
}

func (s *ProfileStore) loadLocked(hash identity.IdentHash) *PeerProfile {
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		return &PeerProfile{Updated: time.Time{}}
	}
	var p PeerProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return &PeerProfile{}
	}
	return &p
}

// Save writes hash's current profile to disk.
func (s *ProfileStore) Save(hash identity.IdentHash) error {
	s.mu.Lock()
	p, ok := s.profiles[hash]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("netdb: marshaling peer profile: %w", err)
	}
	path := s.path(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("netdb: creating peer profile directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// SaveAll writes every currently loaded profile to disk, collecting (rather
// than stopping at) the first error so one bad shard doesn't prevent the
// rest from being persisted during shutdown.
func (s *ProfileStore) SaveAll() error {
	s.mu.Lock()
	hashes := make([]identity.IdentHash, 0, len(s.profiles))
	for h := range s.profiles {
		hashes = append(hashes, h)
	}
	s.mu.Unlock()

	var errs []error
	for _, h := range hashes {
		if err := s.Save(h); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("netdb: saving %d of %d peer profiles failed: %w", len(errs), len(hashes), errs[0])
	}
	return nil
}

// RecordBuildOutcome updates hash's accept/reject counters for a tunnel
// build record response.
func (s *ProfileStore) RecordBuildOutcome(hash identity.IdentHash, accepted bool, now time.Time) {
	p := s.Get(hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	if accepted {
		p.Accepted++
	} else {
		p.Rejected++
	}
	p.Updated = now
}

// RecordTestOutcome updates hash's tunnel-test pass/fail counters.
func (s *ProfileStore) RecordTestOutcome(hash identity.IdentHash, passed bool, now time.Time) {
	p := s.Get(hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	if passed {
		p.TestsPassed++
	} else {
		p.TestsFailed++
	}
	p.Updated = now
}
