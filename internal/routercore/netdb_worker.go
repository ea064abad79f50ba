package routercore

import (
	"context"
	"time"

	"github.com/go-i2p/i2pcore/internal/i2np"
	"github.com/go-i2p/i2pcore/internal/identity"
	"github.com/go-i2p/i2pcore/internal/netdb"
	"github.com/go-i2p/i2pcore/internal/rerr"
)

// Intervals the NetDB worker drives on top of its message queue (spec.md §5
// "NetDB worker": "runs manage-requests every 15s", plus the publish cycle,
// exploratory probing every ~30s, the 60s RouterInfo save, and the
// stale-RouterInfo sweep). The three that pkg/config's "netdb" section can
// override carry a default* prefix and are read through the RouterCore's
// Timers field; the other two are not configurable.
const (
	defaultManageRequestsInterval = 15 * time.Second
	publishRetryInterval          = 10 * time.Second
	defaultExploreInterval        = 30 * time.Second
	defaultSaveInterval           = 60 * time.Second
	staleSweepInterval            = 10 * time.Minute
)

// netdbLoop owns every mutation of rc.NetDB, rc.Lookups, and rc.Publisher;
// nothing outside this goroutine touches them (spec.md §5: "a small set of
// long-lived worker threads, each owning a dedicated message queue").
func (rc *RouterCore) netdbLoop(ctx context.Context) error {
	manageTicker := time.NewTicker(rc.timers.manageRequestsEvery())
	defer manageTicker.Stop()
	publishTicker := time.NewTicker(publishRetryInterval)
	defer publishTicker.Stop()
	republishTicker := time.NewTicker(netdb.PublishInterval)
	defer republishTicker.Stop()
	exploreTicker := time.NewTicker(rc.timers.exploreInterval())
	defer exploreTicker.Stop()
	staleTicker := time.NewTicker(staleSweepInterval)
	defer staleTicker.Stop()
	saveTicker := time.NewTicker(rc.timers.saveEvery())
	defer saveTicker.Stop()

	rc.republish(time.Now())

	for {
		select {
		case <-ctx.Done():
			return nil

		case item := <-rc.netdbQueue:
			rc.handleNetDBMessage(item)

		case now := <-manageTicker.C:
			for _, r := range rc.Lookups.ManageRequests(now) {
				rc.sendLookup(r.Target, r.Msg, now)
			}

		case now := <-publishTicker.C:
			for _, a := range rc.Publisher.ManageTimers(now) {
				rc.sendStore(a.Target, a.Store, now)
			}

		case now := <-republishTicker.C:
			rc.republish(now)

		case <-rc.Ctx.Changed():
			rc.republish(time.Now())

		case now := <-exploreTicker.C:
			rc.runExplore(now)

		case now := <-staleTicker.C:
			if n := rc.NetDB.SweepStale(now); n > 0 {
				rc.Log.WithField("evicted", n).Debug("swept stale router infos")
			}

		case <-saveTicker.C:
			if err := rc.saveRouterInfos(); err != nil {
				rc.Log.WithField("err", err).Warn("periodic router info save failed")
			}
		}
	}
}

// republish pushes the local RouterInfo to the two closest floodfills
// (spec.md §4.F "Publish": "every ~40 minutes (and on address change)").
func (rc *RouterCore) republish(now time.Time) {
	attempts, err := rc.Publisher.Publish(rc.Ctx.RouterInfo(), now)
	if err != nil {
		rc.Log.WithField("err", err).Warn("publish failed: no floodfill available")
		return
	}
	for _, a := range attempts {
		rc.sendStore(a.Target, a.Store, now)
	}
}

func (rc *RouterCore) sendStore(to identity.IdentHash, store *i2np.DatabaseStore, now time.Time) {
	rc.send(to, i2np.NewMessage(rc.IDs, i2np.TypeDatabaseStore, store.Marshal(), now, controlMessageTTL))
}

func (rc *RouterCore) sendLookup(to identity.IdentHash, lookup *i2np.DatabaseLookup, now time.Time) {
	rc.send(to, i2np.NewMessage(rc.IDs, i2np.TypeDatabaseLookup, lookup.Marshal(), now, controlMessageTTL))
}

// runExplore issues this tick's batch of exploratory lookups against random
// keyspace targets (spec.md §4.F "Exploratory probing").
func (rc *RouterCore) runExplore(now time.Time) {
	n := rc.NetDB.ExploreCount()
	for i := 0; i < n; i++ {
		key, err := netdb.RandomExploreKey()
		if err != nil {
			rc.Log.WithField("err", err).Warn("failed to generate exploratory key")
			return
		}
		lookup, target, err := rc.Lookups.Lookup(key, netdb.LookupKindRouterInfo, now, nil)
		if err != nil || lookup == nil {
			continue
		}
		rc.sendLookup(target, lookup, now)
	}
}

// handleNetDBMessage dispatches one dequeued DatabaseStore/DatabaseLookup/
// DatabaseSearchReply/DeliveryStatus message (spec.md §4.F).
func (rc *RouterCore) handleNetDBMessage(item inboundMsg) {
	now := time.Now()
	localID := rc.Ctx.IdentHash()

	switch item.Msg.Type {
	case i2np.TypeDatabaseStore:
		store, err := i2np.ParseDatabaseStore(item.Msg.Payload)
		if err != nil {
			rc.Errors.Incr(rerr.MalformedMessage, item.From.String())
			return
		}
		result := rc.NetDB.HandleDatabaseStore(item.From, localID, store, now)
		if result.Err != nil {
			rc.Errors.Incr(rerr.MalformedMessage, item.From.String())
			return
		}
		if result.ReplyStatus != nil {
			rc.send(result.ReplyGateway, i2np.NewMessage(rc.IDs, i2np.TypeDeliveryStatus, result.ReplyStatus.Marshal(), now, controlMessageTTL))
		}
		for _, f := range result.Flood {
			rc.sendStore(f.Target, f.Store, now)
		}
		if result.Admitted {
			lr := netdb.LookupResult{}
			switch store.DataType {
			case i2np.DatabaseStoreRouterInfo:
				lr.RouterInfo, _ = rc.NetDB.RouterInfo(store.Key)
				rc.Lookups.HandleStore(store.Key, netdb.LookupKindRouterInfo, lr)
			case i2np.DatabaseStoreLeaseSet:
				lr.LeaseSet, _ = rc.NetDB.LeaseSet(store.Key, now)
				rc.Lookups.HandleStore(store.Key, netdb.LookupKindLeaseSet, lr)
			}
		}

	case i2np.TypeDatabaseLookup:
		lookup, err := i2np.ParseDatabaseLookup(item.Msg.Payload)
		if err != nil {
			rc.Errors.Incr(rerr.MalformedMessage, item.From.String())
			return
		}
		resp := rc.NetDB.HandleDatabaseLookup(item.From, localID, lookup, now)
		switch {
		case resp.Store != nil:
			rc.sendStore(item.From, resp.Store, now)
		case resp.SearchReply != nil:
			rc.send(item.From, i2np.NewMessage(rc.IDs, i2np.TypeDatabaseSearchReply, resp.SearchReply.Marshal(), now, controlMessageTTL))
		}

	case i2np.TypeDatabaseSearchReply:
		reply, err := i2np.ParseDatabaseSearchReply(item.Msg.Payload)
		if err != nil {
			rc.Errors.Incr(rerr.MalformedMessage, item.From.String())
			return
		}
		// The reply does not name which kind of record was being sought;
		// trying both is harmless since a mismatched kind simply finds no
		// pending lookup to advance.
		for _, kind := range [...]netdb.LookupKind{netdb.LookupKindRouterInfo, netdb.LookupKindLeaseSet} {
			if lookup, target, ok := rc.Lookups.HandleSearchReply(item.From, reply.Key, kind, now); ok {
				rc.sendLookup(target, lookup, now)
			}
		}

	case i2np.TypeDeliveryStatus:
		status, err := i2np.ParseDeliveryStatus(item.Msg.Payload)
		if err != nil {
			rc.Errors.Incr(rerr.MalformedMessage, item.From.String())
			return
		}
		rc.Publisher.HandleDeliveryStatus(status.MsgID, now)
		rc.Sessions.Acknowledge(status.MsgID)

	default:
		rc.Errors.Incr(rerr.UnknownMessageType, item.From.String())
	}
}
