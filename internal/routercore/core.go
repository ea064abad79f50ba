// Package routercore wires the NetDB, tunnel engine, garlic session layer,
// router context, and transport adapter into the single aggregate every
// worker goroutine is handed a reference to (spec.md §9 re-architecture
// note: "Shared-mutable singletons (netdb, tunnels, transports, context) ->
// a RouterCore aggregate created at startup, passed by reference to each
// worker; no globals"). It owns the two queue-fed worker loops spec.md §5
// describes (NetDB worker, tunnel-engine worker) and the shutdown sequence
// spec.md §6 requires.
package routercore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/go-i2p/i2pcore/internal/garlic"
	"github.com/go-i2p/i2pcore/internal/i2np"
	"github.com/go-i2p/i2pcore/internal/identity"
	"github.com/go-i2p/i2pcore/internal/metrics"
	"github.com/go-i2p/i2pcore/internal/netdb"
	"github.com/go-i2p/i2pcore/internal/rerr"
	"github.com/go-i2p/i2pcore/internal/routerctx"
	"github.com/go-i2p/i2pcore/internal/store"
	"github.com/go-i2p/i2pcore/internal/transport"
	"github.com/go-i2p/i2pcore/internal/tunnel"
	"github.com/go-i2p/i2pcore/internal/tunnel/pool"
)

// queueDepth bounds each worker's inbox (spec.md §5: transports "must not
// block" when handing messages to a worker queue).
const queueDepth = 256

// controlMessageTTL is how far in the future outbound control messages
// (database store/lookup, tunnel build, delivery status) stamp their
// expiration.
const controlMessageTTL = time.Minute

// expirationSlack is how far past its stamped expiration an inbound message
// is still accepted (spec.md §4.C: "expiration is a hard drop threshold for
// received messages").
const expirationSlack = 2 * time.Minute

// inboundMsg is one transport-delivered message queued for a worker.
type inboundMsg struct {
	From identity.IdentHash
	Msg  *i2np.Message
}

// Timers bundles the NetDB worker's configurable cadences (pkg/config's
// "netdb" section), so New's parameter list doesn't grow with every tunable
// interval. A zero Duration falls back to the spec.md default for that
// timer.
type Timers struct {
	ManageRequestsEvery time.Duration
	ExploreInterval     time.Duration
	SaveEvery           time.Duration
}

func (t Timers) manageRequestsEvery() time.Duration {
	if t.ManageRequestsEvery > 0 {
		return t.ManageRequestsEvery
	}
	return defaultManageRequestsInterval
}

func (t Timers) exploreInterval() time.Duration {
	if t.ExploreInterval > 0 {
		return t.ExploreInterval
	}
	return defaultExploreInterval
}

func (t Timers) saveEvery() time.Duration {
	if t.SaveEvery > 0 {
		return t.SaveEvery
	}
	return defaultSaveInterval
}

// RouterCore is the aggregate passed by reference to every worker; nothing
// under this package keeps package-level mutable state.
type RouterCore struct {
	Ctx         *routerctx.RouterContext
	NetDB       *netdb.Store
	Profiles    *netdb.ProfileStore
	Lookups     *netdb.LookupManager
	Publisher   *netdb.Publisher
	Sessions    *garlic.SessionManager
	Pending     *tunnel.PendingTable
	Transit     *TransitTable
	Exploratory *pool.Pool
	Transport   *transport.Registry
	IDs         *i2np.IDGenerator
	Msgs        *i2np.Pool
	Errors      *rerr.Counters
	Metrics     *metrics.Registry
	Log         *logrus.Entry

	// RIStore is the on-disk netDb/ persistence path (spec.md §6). It may
	// be nil, in which case periodic and shutdown-time RouterInfo
	// persistence is skipped (e.g. in unit tests that have no data
	// directory) — profiles still get saved.
	RIStore *store.RouterInfoStore
	timers  Timers

	netdbQueue  chan inboundMsg
	tunnelQueue chan inboundMsg

	epMu      sync.Mutex
	endpoints map[tunnel.TunnelID]*tunnel.Endpoint
}

// New wires a RouterCore from its constituent components. Callers build
// each component (routerctx.New, netdb.New, garlic.NewSessionManager, ...)
// themselves so that each can be unit-tested in isolation; New only does
// the wiring and queue setup. riStore persists admitted RouterInfos to
// spec.md §6's netDb/ layout (pass nil to skip, e.g. in tests); timers
// carries pkg/config's NetDB interval overrides.
func New(ctx *routerctx.RouterContext, db *netdb.Store, profiles *netdb.ProfileStore, lookups *netdb.LookupManager, publisher *netdb.Publisher, sessions *garlic.SessionManager, pending *tunnel.PendingTable, exploratory *pool.Pool, tr *transport.Registry, ids *i2np.IDGenerator, msgs *i2np.Pool, errs *rerr.Counters, met *metrics.Registry, riStore *store.RouterInfoStore, timers Timers, log *logrus.Entry) *RouterCore {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	rc := &RouterCore{
		Ctx:         ctx,
		NetDB:       db,
		Profiles:    profiles,
		Lookups:     lookups,
		Publisher:   publisher,
		Sessions:    sessions,
		Pending:     pending,
		Transit:     NewTransitTable(),
		Exploratory: exploratory,
		Transport:   tr,
		IDs:         ids,
		Msgs:        msgs,
		Errors:      errs,
		Metrics:     met,
		Log:         log.WithField("component", "routercore"),
		RIStore:     riStore,
		timers:      timers,
		netdbQueue:  make(chan inboundMsg, queueDepth),
		tunnelQueue: make(chan inboundMsg, queueDepth),
		endpoints:   make(map[tunnel.TunnelID]*tunnel.Endpoint),
	}
	tr.SetHandler(rc.HandleInbound)
	return rc
}

// Run starts the NetDB and tunnel-engine workers and blocks until ctx is
// canceled or either worker returns an error (spec.md §5 "Scheduling
// model": "a small set of long-lived worker threads, each owning a
// dedicated message queue").
func (rc *RouterCore) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rc.netdbLoop(ctx) })
	g.Go(func() error { return rc.tunnelLoop(ctx) })
	return g.Wait()
}

// Shutdown implements spec.md §6's shutdown contract: stop admitting new
// transit tunnels immediately, wait up to deadline for the existing ones to
// drain, then persist RouterInfos and profiles. Run's worker loops are
// expected to have already been stopped by canceling the context passed to
// Run; Shutdown only handles the drain-then-persist half of the contract.
func (rc *RouterCore) Shutdown(deadline time.Time) error {
	rc.Ctx.BeginShutdown()
	if remaining := rc.Ctx.Drain(deadline); remaining > 0 {
		rc.Log.WithField("remaining_transit_tunnels", remaining).Warn("shutdown deadline reached with transit tunnels still draining")
	}
	return rc.persist()
}

func (rc *RouterCore) persist() error {
	if err := rc.Profiles.SaveAll(); err != nil {
		return fmt.Errorf("routercore: saving peer profiles: %w", err)
	}
	if err := rc.saveRouterInfos(); err != nil {
		return fmt.Errorf("routercore: saving router infos: %w", err)
	}
	return nil
}

// saveRouterInfos writes every currently-admitted RouterInfo to RIStore's
// netDb/ layout (spec.md §6 disk layout, §5 "save-updated every 60 s"). It
// is a no-op if RIStore is nil. Like ProfileStore.SaveAll, it collects
// every per-entry error instead of stopping at the first.
func (rc *RouterCore) saveRouterInfos() error {
	if rc.RIStore == nil {
		return nil
	}
	all := rc.NetDB.AllRouterInfos()
	var errs []error
	for _, ri := range all {
		if err := rc.RIStore.Save(ri); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("routercore: saving %d of %d router infos failed: %w", len(errs), len(all), errs[0])
	}
	return nil
}

// send marshals msg and hands it to the transport registry, counting and
// logging (but never propagating) a no-session failure, matching spec.md
// §6's "best-effort; may drop if no session" contract.
func (rc *RouterCore) send(to identity.IdentHash, msg *i2np.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rc.Transport.Send(ctx, to, msg); err != nil {
		rc.Log.WithFields(logrus.Fields{"to": to.String(), "type": msg.Type.String(), "err": err}).Debug("send failed")
	}
}

// HandleInbound is wired as the transport.Handler; it classifies a message
// by type and routes it to whichever worker owns that class, applying
// spec.md §7's queue-full policy ("drop oldest for tunnel data, fail-fast
// for build records").
func (rc *RouterCore) HandleInbound(from identity.IdentHash, msg *i2np.Message) {
	item := inboundMsg{From: from, Msg: msg}
	switch msg.Type {
	case i2np.TypeDatabaseStore, i2np.TypeDatabaseLookup, i2np.TypeDatabaseSearchReply, i2np.TypeDeliveryStatus:
		rc.enqueue(rc.netdbQueue, item, true, from)
	case i2np.TypeTunnelData, i2np.TypeTunnelGateway:
		rc.enqueue(rc.tunnelQueue, item, true, from)
	case i2np.TypeVariableTunnelBuild, i2np.TypeVariableTunnelBuildReply, i2np.TypeTunnelBuild, i2np.TypeTunnelBuildReply:
		rc.enqueue(rc.tunnelQueue, item, false, from)
	case i2np.TypeGarlic, i2np.TypeData:
		rc.enqueue(rc.tunnelQueue, item, true, from)
	default:
		rc.Errors.Incr(rerr.UnknownMessageType, from.String())
	}
}

// enqueue attempts a non-blocking send on q. dropOldest selects spec.md
// §7's queue-full policy: true drops the oldest queued item to make room
// (tunnel data), false fails the new item fast instead (build records).
func (rc *RouterCore) enqueue(q chan inboundMsg, item inboundMsg, dropOldest bool, from identity.IdentHash) {
	select {
	case q <- item:
		return
	default:
	}
	if !dropOldest {
		rc.Errors.Incr(rerr.QueueFull, from.String())
		return
	}
	select {
	case <-q:
	default:
	}
	select {
	case q <- item:
	default:
		rc.Errors.Incr(rerr.QueueFull, from.String())
	}
}

func (rc *RouterCore) endpointFor(id tunnel.TunnelID, ivKey, layerKey []byte) *tunnel.Endpoint {
	rc.epMu.Lock()
	defer rc.epMu.Unlock()
	if ep, ok := rc.endpoints[id]; ok {
		return ep
	}
	ep := tunnel.NewEndpoint(ivKey, layerKey)
	rc.endpoints[id] = ep
	return ep
}

func (rc *RouterCore) dropEndpoint(id tunnel.TunnelID) {
	rc.epMu.Lock()
	defer rc.epMu.Unlock()
	delete(rc.endpoints, id)
}
