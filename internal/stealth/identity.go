package stealth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand"
	"net"
	"net/url"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxleads/chimera/internal/mission"
)

// PoolConfig controls identity minting.
type PoolConfig struct {
	// ProxyURLs are egress proxies handed out round-robin. Empty means
	// direct egress (development only).
	ProxyURLs []string
	// StickyTTL keeps a released sticky identity pinned so follow-up
	// missions with the same sticky_session_id reuse it.
	StickyTTL time.Duration
}

// Pool mints ephemeral per-mission identities and pins sticky sessions.
// Non-sticky identities are destroyed on release and never reused.
type Pool struct {
	cfg    PoolConfig
	clock  mission.Clock
	logger *zap.Logger

	mu     sync.Mutex
	rng    *mrand.Rand
	next   int
	sticky map[string]*stickyEntry
}

type stickyEntry struct {
	identity   *mission.Identity
	refs       int
	releasedAt time.Time
}

// NewPool constructs a Pool.
func NewPool(cfg PoolConfig, clock mission.Clock, logger *zap.Logger) *Pool {
	if cfg.StickyTTL <= 0 {
		cfg.StickyTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		rng:    mrand.New(mrand.NewSource(time.Now().UnixNano())),
		sticky: make(map[string]*stickyEntry),
	}
}

// Acquire binds an egress identity. A sticky session id returns the pinned
// identity when one is live; anything else mints a fresh one.
func (p *Pool) Acquire(_ context.Context, stickySessionID string) (*mission.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if stickySessionID != "" {
		if entry, ok := p.sticky[stickySessionID]; ok {
			if entry.refs > 0 || now.Sub(entry.releasedAt) <= p.cfg.StickyTTL {
				entry.refs++
				return entry.identity, nil
			}
			delete(p.sticky, stickySessionID)
		}
	}

	id, err := p.mint(stickySessionID, now)
	if err != nil {
		return nil, err
	}
	if stickySessionID != "" {
		p.sticky[stickySessionID] = &stickyEntry{identity: id, refs: 1}
	}
	p.logger.Debug("identity acquired",
		zap.String("session_id", id.SessionID),
		zap.String("egress_ip", id.EgressIP),
	)
	return id, nil
}

// Release returns an identity. Non-sticky identities are destroyed; sticky
// ones stay pinned for the sticky TTL.
func (p *Pool) Release(id *mission.Identity) {
	if id == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.sticky[id.SessionID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		entry.refs = 0
		entry.releasedAt = p.clock.Now()
	}
}

// EgressIP re-resolves the identity's egress address so workers can detect
// mid-mission changes. Direct-egress identities always report their bound
// address. A hostname proxy binds on the first check; afterwards the bound
// address stays authoritative as long as the proxy still resolves to it, so
// multi-homed proxies do not flap on answer ordering.
func (p *Pool) EgressIP(ctx context.Context, id *mission.Identity) (string, error) {
	if id == nil {
		return "", fmt.Errorf("identity is required")
	}
	if id.ProxyURL == "" {
		return id.EgressIP, nil
	}
	host, err := proxyHost(id.ProxyURL)
	if err != nil {
		return "", err
	}
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return "", fmt.Errorf("resolve egress %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for egress %s", host)
	}
	sort.Strings(addrs)

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, addr := range addrs {
		if addr == id.EgressIP {
			return id.EgressIP, nil
		}
	}
	if id.EgressIP == "" {
		id.EgressIP = addrs[0]
		return id.EgressIP, nil
	}
	return addrs[0], nil
}

// Live reports whether a sticky session is currently pinned. Exposed for
// verification in tests and the readiness endpoint.
func (p *Pool) Live(stickySessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.sticky[stickySessionID]
	if !ok {
		return false
	}
	return entry.refs > 0 || p.clock.Now().Sub(entry.releasedAt) <= p.cfg.StickyTTL
}

func (p *Pool) mint(stickySessionID string, now time.Time) (*mission.Identity, error) {
	sessionID := stickySessionID
	if sessionID == "" {
		raw := make([]byte, 8)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("mint session id: %w", err)
		}
		sessionID = hex.EncodeToString(raw)
	}

	var proxyURL, egressIP string
	if len(p.cfg.ProxyURLs) > 0 {
		proxyURL = p.cfg.ProxyURLs[p.next%len(p.cfg.ProxyURLs)]
		p.next++
		host, err := proxyHost(proxyURL)
		if err != nil {
			return nil, err
		}
		// An IP-literal proxy is already the egress address. Hostname
		// proxies bind on the first egress check instead, keeping the
		// bound value comparable with re-resolved addresses.
		if net.ParseIP(host) != nil {
			egressIP = host
		}
	} else {
		egressIP = "direct"
	}

	return &mission.Identity{
		SessionID:   sessionID,
		ProxyURL:    proxyURL,
		EgressIP:    egressIP,
		Fingerprint: GenerateFingerprint(p.rng),
		AcquiredAt:  now,
	}, nil
}

func proxyHost(proxyURL string) (string, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return "", fmt.Errorf("parse proxy url: %w", err)
	}
	return u.Hostname(), nil
}
