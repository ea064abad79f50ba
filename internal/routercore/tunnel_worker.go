package routercore

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"math/big"
	"time"

	"github.com/go-i2p/i2pcore/internal/garlic"
	"github.com/go-i2p/i2pcore/internal/i2np"
	"github.com/go-i2p/i2pcore/internal/identity"
	"github.com/go-i2p/i2pcore/internal/rerr"
	"github.com/go-i2p/i2pcore/internal/tunnel"
	"github.com/go-i2p/i2pcore/internal/tunnel/pool"
)

// Timers the tunnel worker drives on top of its message queue (spec.md §5
// "tunnel worker"): expiring pending builds, expiring transit hops, per-
// endpoint fragment reassembly, and pool maintenance (build scheduling and
// expiry marking).
const (
	pendingSweepInterval    = 5 * time.Second
	transitSweepInterval    = time.Minute
	reassemblySweepInterval = 5 * time.Second
	poolMaintainInterval    = 10 * time.Second
)

// tunnelLoop owns rc.Pending, rc.Transit, rc.endpoints, and (via its calls
// into rc.Exploratory) the exploratory tunnel pool; nothing outside this
// goroutine touches them.
func (rc *RouterCore) tunnelLoop(ctx context.Context) error {
	pendingTicker := time.NewTicker(pendingSweepInterval)
	defer pendingTicker.Stop()
	transitTicker := time.NewTicker(transitSweepInterval)
	defer transitTicker.Stop()
	reassemblyTicker := time.NewTicker(reassemblySweepInterval)
	defer reassemblyTicker.Stop()
	maintainTicker := time.NewTicker(poolMaintainInterval)
	defer maintainTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case item := <-rc.tunnelQueue:
			rc.handleTunnelMessage(item)

		case now := <-pendingTicker.C:
			for _, p := range rc.Pending.SweepExpired(now) {
				rc.Log.WithField("hops", len(p.Hops)).Debug("tunnel build timed out")
				rc.Metrics.TunnelBuildTotal.WithLabelValues("timeout").Inc()
			}

		case now := <-transitTicker.C:
			for _, h := range rc.Transit.SweepExpired(now) {
				rc.Ctx.ReleaseTransit()
				rc.dropEndpoint(h.RecvTunnelID)
			}
			rc.Metrics.TransitTunnels.Set(float64(rc.Transit.Len()))

		case now := <-reassemblyTicker.C:
			rc.sweepEndpoints(now)

		case now := <-maintainTicker.C:
			if expiring, removed := rc.Exploratory.SweepExpiry(now); len(expiring) > 0 || removed > 0 {
				rc.Log.WithField("expiring", len(expiring)).WithField("removed", removed).Debug("exploratory pool swept")
				rc.Metrics.TunnelsEstablished.Sub(float64(removed))
			}
			rc.scheduleBuild(now)
		}
	}
}

func (rc *RouterCore) sweepEndpoints(now time.Time) {
	rc.epMu.Lock()
	eps := make([]*tunnel.Endpoint, 0, len(rc.endpoints))
	for _, ep := range rc.endpoints {
		eps = append(eps, ep)
	}
	rc.epMu.Unlock()
	for _, ep := range eps {
		ep.Reassembler.Sweep(now)
	}
}

// handleTunnelMessage dispatches one dequeued tunnel-plane message (spec.md
// §4.G "tunnel data plane" and §4.E "VariableTunnelBuild").
func (rc *RouterCore) handleTunnelMessage(item inboundMsg) {
	now := time.Now()
	switch item.Msg.Type {
	case i2np.TypeTunnelData:
		rc.handleTunnelData(item, now)
	case i2np.TypeTunnelGateway:
		rc.handleTunnelGateway(item, now)
	case i2np.TypeVariableTunnelBuild:
		rc.handleVariableTunnelBuild(item, now)
	case i2np.TypeVariableTunnelBuildReply:
		rc.handleVariableTunnelBuildReply(item, now)
	case i2np.TypeGarlic:
		rc.handleGarlic(item, now)
	case i2np.TypeData:
		rc.Log.Debug("dropping opaque data message: no local consumer")
	default:
		rc.Errors.Incr(rerr.UnknownMessageType, item.From.String())
	}
}

// handleTunnelData processes one TunnelData payload through either the
// transit-hop participant path (peel one layer, forward) or, if this router
// is the tunnel's endpoint, the reassembly path (spec.md §4.G).
func (rc *RouterCore) handleTunnelData(item inboundMsg, now time.Time) {
	msg, err := tunnel.ParseDataMessage(item.Msg.Payload)
	if err != nil {
		rc.Errors.Incr(rerr.MalformedMessage, item.From.String())
		return
	}
	h, ok := rc.Transit.Get(msg.TunnelID)
	if !ok {
		rc.Errors.Incr(rerr.MalformedMessage, item.From.String())
		return
	}

	if h.Endpoint {
		ep := rc.endpointFor(msg.TunnelID, h.IVKey[:], h.LayerKey[:])
		delivery, err := ep.Process(now, msg)
		if err != nil {
			rc.Errors.Incr(rerr.GarlicDecryptFailure, item.From.String())
			return
		}
		if delivery != nil {
			rc.dispatchDelivery(delivery.Delivery, delivery.ToTunnel, delivery.ToHash, delivery.Payload, now)
		}
		return
	}

	fwd, err := tunnel.ParticipantFromHop(h).Process(msg)
	if err != nil {
		rc.Errors.Incr(rerr.MalformedMessage, item.From.String())
		return
	}
	out := i2np.NewMessage(rc.IDs, i2np.TypeTunnelData, fwd.Message.Marshal(), now, controlMessageTTL)
	rc.send(fwd.NextIdent, out)
}

// dispatchDelivery routes a reassembled inner message according to its
// fragment delivery instruction (spec.md §4.G "fragment delivery types").
// Final disposition of a "local" delivery is always a garlic message — the
// only inner payload type this router originates end-to-end.
func (rc *RouterCore) dispatchDelivery(d tunnel.DeliveryType, toTunnel tunnel.TunnelID, toHash identity.IdentHash, payload []byte, now time.Time) {
	switch d {
	case tunnel.DeliveryLocal:
		rc.dispatchLocalGarlic(payload, now)

	case tunnel.DeliveryRouter:
		rc.send(toHash, i2np.NewMessage(rc.IDs, i2np.TypeGarlic, payload, now, controlMessageTTL))

	case tunnel.DeliveryTunnel:
		gw := &tunnel.GatewayMessage{TunnelID: toTunnel, Payload: payload}
		raw, err := gw.Marshal()
		if err != nil {
			rc.Errors.Incr(rerr.MalformedMessage, "")
			return
		}
		rc.send(toHash, i2np.NewMessage(rc.IDs, i2np.TypeTunnelGateway, raw, now, controlMessageTTL))
	}
}

func (rc *RouterCore) dispatchLocalGarlic(payload []byte, now time.Time) {
	cloves, err := rc.Sessions.UnwrapInbound(payload, rc.Ctx.EncryptionPrivateKey())
	if err != nil {
		rc.Errors.Incr(rerr.GarlicDecryptFailure, "")
		return
	}
	for _, c := range cloves {
		rc.dispatchClove(c, now)
	}
}

// handleGarlic processes a garlic message delivered directly (not via a
// tunnel endpoint), e.g. a router-to-router reply.
func (rc *RouterCore) handleGarlic(item inboundMsg, now time.Time) {
	cloves, err := rc.Sessions.UnwrapInbound(item.Msg.Payload, rc.Ctx.EncryptionPrivateKey())
	if err != nil {
		rc.Errors.Incr(rerr.GarlicDecryptFailure, item.From.String())
		return
	}
	for _, c := range cloves {
		rc.dispatchClove(c, now)
	}
}

// dispatchClove delivers one unwrapped garlic clove according to its own
// delivery instructions (spec.md §4.D "garlic cloves").
func (rc *RouterCore) dispatchClove(c garlic.Clove, now time.Time) {
	switch c.Instructions.Type {
	case garlic.DeliveryLocal:
		msg, err := i2np.Parse(c.InnerMessage, now, expirationSlack)
		if err != nil {
			rc.Errors.Incr(rerr.MalformedMessage, "")
			return
		}
		rc.HandleInbound(identity.IdentHash{}, msg)

	case garlic.DeliveryRouter:
		msg, err := i2np.Parse(c.InnerMessage, now, expirationSlack)
		if err != nil {
			rc.Errors.Incr(rerr.MalformedMessage, "")
			return
		}
		rc.send(c.Instructions.Hash, msg)

	case garlic.DeliveryTunnel:
		gw := &tunnel.GatewayMessage{TunnelID: tunnel.TunnelID(c.Instructions.TunnelID), Payload: c.InnerMessage}
		raw, err := gw.Marshal()
		if err != nil {
			rc.Errors.Incr(rerr.MalformedMessage, "")
			return
		}
		rc.send(c.Instructions.Hash, i2np.NewMessage(rc.IDs, i2np.TypeTunnelGateway, raw, now, controlMessageTTL))

	case garlic.DeliveryDestination:
		// Destination-addressed cloves require a client-tunnel/LeaseSet
		// routing layer this router core does not model; drop and count.
		rc.Errors.Incr(rerr.MalformedMessage, "")
	}
}

// handleTunnelGateway implements the one legitimate over-the-wire use of a
// TunnelGatewayMessage: delivering a message to the owner of the named
// outbound tunnel, who alone holds the full per-hop key chain and so is the
// only router able to layer and fragment it for that tunnel (spec.md §4.H).
func (rc *RouterCore) handleTunnelGateway(item inboundMsg, now time.Time) {
	gw, err := tunnel.ParseGatewayMessage(item.Msg.Payload)
	if err != nil {
		rc.Errors.Incr(rerr.MalformedMessage, item.From.String())
		return
	}
	t, ok := rc.Exploratory.FindOutbound(gw.TunnelID)
	if !ok {
		rc.Errors.Incr(rerr.MalformedMessage, item.From.String())
		return
	}
	hopKeys := make([]tunnel.HopKeys, len(t.Hops))
	for i, h := range t.Hops {
		hopKeys[i] = tunnel.HopKeys{IVKey: h.IVKey[:], LayerKey: h.LayerKey[:]}
	}
	msgs, err := tunnel.BuildGatewayMessages(t.Hops[0].RecvTunnelID, hopKeys, tunnel.DeliveryLocal, 0, identity.IdentHash{}, rc.IDs.Next(), gw.Payload)
	if err != nil {
		rc.Errors.Incr(rerr.MalformedMessage, item.From.String())
		return
	}
	for _, m := range msgs {
		rc.send(t.Hops[0].Peer, i2np.NewMessage(rc.IDs, i2np.TypeTunnelData, m.Marshal(), now, controlMessageTTL))
	}
}

// handleVariableTunnelBuild processes this router's own build record within
// an inbound VariableTunnelBuild, admits or rejects the transit hop, and
// forwards the (now re-encrypted) message on to the next hop — or, if this
// is the endpoint record, turns the field's repurposed NextIdent/NextMsgID
// into the reply send (spec.md §4.E).
func (rc *RouterCore) handleVariableTunnelBuild(item inboundMsg, now time.Time) {
	vtb, err := tunnel.ParseVariableTunnelBuild(item.Msg.Payload)
	if err != nil {
		rc.Errors.Incr(rerr.MalformedMessage, item.From.String())
		return
	}
	result, err := tunnel.ProcessAsHop(rc.Ctx.IdentHash(), rc.Ctx.EncryptionPrivateKey(), vtb)
	if err != nil {
		rc.Errors.Incr(rerr.MalformedMessage, item.From.String())
		return
	}
	fields := result.Fields

	accept := rc.Ctx.TryAdmitTransit()
	if err := tunnel.WriteHopReply(vtb, result.OwnIndex, tunnel.HopResponseByte(accept)); err != nil {
		rc.Errors.Incr(rerr.MalformedMessage, item.From.String())
		return
	}
	if err := tunnel.EncryptAllRecords(vtb, fields.ReplyKey[:], fields.ReplyIV[:]); err != nil {
		rc.Errors.Incr(rerr.MalformedMessage, item.From.String())
		return
	}

	if accept {
		rc.Transit.Add(&tunnel.TransitHop{
			RecvTunnelID: fields.RecvTunnelID,
			NextTunnelID: fields.NextTunnelID,
			NextIdent:    fields.NextIdent,
			LayerKey:     fields.LayerKey,
			IVKey:        fields.IVKey,
			Gateway:      fields.Gateway,
			Endpoint:     fields.Endpoint,
			CreatedAt:    now,
		})
		rc.Metrics.TransitTunnels.Set(float64(rc.Transit.Len()))
	} else {
		rc.Errors.Incr(rerr.TunnelBuildRejected, item.From.String())
	}

	payload, err := vtb.Marshal(nil)
	if err != nil {
		rc.Errors.Incr(rerr.MalformedMessage, item.From.String())
		return
	}
	if fields.Endpoint {
		rc.send(fields.NextIdent, i2np.NewReply(i2np.TypeVariableTunnelBuildReply, fields.NextMsgID, payload, now, controlMessageTTL))
		return
	}
	rc.send(fields.NextIdent, i2np.NewMessage(rc.IDs, i2np.TypeVariableTunnelBuild, payload, now, controlMessageTTL))
}

// handleVariableTunnelBuildReply completes a build this router originated:
// peel every hop's reply layer, read each hop's accept/reject outcome, and
// either install the resulting Tunnel into the exploratory pool or record
// the failure (spec.md §4.E "build reply").
func (rc *RouterCore) handleVariableTunnelBuildReply(item inboundMsg, now time.Time) {
	p, ok := rc.Pending.Get(item.Msg.MsgID)
	if !ok {
		rc.Errors.Incr(rerr.MalformedMessage, item.From.String())
		return
	}

	fail := func() {
		rc.Pending.Remove(item.Msg.MsgID)
		rc.Metrics.TunnelBuildTotal.WithLabelValues("build_failed").Inc()
	}

	wire, err := tunnel.ParseVariableTunnelBuild(item.Msg.Payload)
	if err != nil {
		fail()
		rc.Errors.Incr(rerr.MalformedMessage, item.From.String())
		return
	}
	reply, err := tunnel.ReorderToChain(wire, p.Perm)
	if err != nil {
		fail()
		return
	}
	if err := tunnel.PeelReply(reply, p.Hops); err != nil {
		fail()
		return
	}
	outcomes := tunnel.ReadOutcomes(reply)
	rc.Pending.Remove(item.Msg.MsgID)

	for i, o := range outcomes {
		if i < len(p.Hops) {
			rc.Profiles.RecordBuildOutcome(p.Hops[i].Peer, o.Accepted, now)
		}
	}

	if !tunnel.AllAccepted(outcomes) {
		rc.Metrics.TunnelBuildTotal.WithLabelValues("build_failed").Inc()
		return
	}

	t := tunnel.InstallHopContexts(p, now)
	if p.Direction == tunnel.Outbound {
		rc.Exploratory.AddOutbound(t, now)
	} else {
		rc.Exploratory.AddInbound(t, now)
	}
	rc.Metrics.TunnelBuildTotal.WithLabelValues("established").Inc()
	rc.Metrics.TunnelsEstablished.Inc()
}

// scheduleBuild originates enough new tunnel builds to close the
// exploratory pool's deficit (spec.md §4.I "maintain the requested tunnel
// counts").
func (rc *RouterCore) scheduleBuild(now time.Time) {
	wantOut, wantIn := rc.Exploratory.Deficit()
	cfg := rc.Exploratory.Config()
	for i := 0; i < wantOut; i++ {
		rc.startBuild(tunnel.Outbound, cfg, now)
	}
	for i := 0; i < wantIn; i++ {
		rc.startBuild(tunnel.Inbound, cfg, now)
	}
}

// startBuild selects hops, assembles per-hop build records, registers a
// PendingBuild keyed by a fresh reply message ID, and sends the onion-
// cancelled VariableTunnelBuild to the first hop (spec.md §4.E, §4.I).
func (rc *RouterCore) startBuild(dir tunnel.Direction, cfg pool.Config, now time.Time) {
	hopCount := cfg.HopsOut
	if dir == tunnel.Inbound {
		hopCount = cfg.HopsIn
	}
	if hopCount <= 0 {
		return
	}

	selector := pool.Selector{NetDB: rc.NetDB, Profiles: rc.Profiles}
	excluded := map[identity.IdentHash]bool{rc.Ctx.IdentHash(): true}
	peers, err := selector.SelectHops(hopCount, cfg.Filters, excluded, now)
	if err != nil {
		rc.Log.WithField("err", err).Debug("tunnel build: hop selection failed")
		return
	}

	replyMsgID := rc.IDs.Next()
	hops := make([]tunnel.HopPlan, len(peers))
	for i, peer := range peers {
		ri, ok := rc.NetDB.RouterInfo(peer)
		if !ok {
			rc.Log.WithField("peer", peer.String()).Debug("tunnel build: selected hop vanished from netdb")
			return
		}
		h := tunnel.HopPlan{
			Peer:             peer,
			PeerEncKey:       ri.Identity.EncryptionKey,
			Gateway:          i == 0,
			Endpoint:         i == len(peers)-1,
			RequestTimeHours: uint32(now.Unix() / 3600),
		}
		if err := randomTunnelID(&h.RecvTunnelID); err != nil {
			return
		}
		if err := randFill(h.LayerKey[:]); err != nil {
			return
		}
		if err := randFill(h.IVKey[:]); err != nil {
			return
		}
		if err := randFill(h.ReplyKey[:]); err != nil {
			return
		}
		if err := randFill(h.ReplyIV[:]); err != nil {
			return
		}
		hops[i] = h
	}
	for i := range hops {
		if hops[i].Endpoint {
			hops[i].NextIdent = rc.Ctx.IdentHash()
			hops[i].NextMsgID = replyMsgID
			continue
		}
		hops[i].NextTunnelID = hops[i+1].RecvTunnelID
		hops[i].NextIdent = hops[i+1].Peer
	}

	vtb, err := tunnel.NewBuildRecords(hops)
	if err != nil {
		rc.Log.WithField("err", err).Warn("tunnel build: constructing build records failed")
		return
	}
	perm, err := randomPermutation(len(hops))
	if err != nil {
		return
	}
	payload, err := vtb.Marshal(perm)
	if err != nil {
		return
	}

	rc.Pending.Add(&tunnel.PendingBuild{
		ReplyMsgID: replyMsgID,
		Direction:  dir,
		Hops:       hops,
		Perm:       perm,
		CreatedAt:  now,
		State:      tunnel.StatePending,
	})

	rc.send(hops[0].Peer, i2np.NewMessage(rc.IDs, i2np.TypeVariableTunnelBuild, payload, now, controlMessageTTL))
}

func randFill(b []byte) error {
	_, err := rand.Read(b)
	return err
}

func randomTunnelID(id *tunnel.TunnelID) error {
	var b [4]byte
	if err := randFill(b[:]); err != nil {
		return err
	}
	*id = tunnel.TunnelID(binary.BigEndian.Uint32(b[:]))
	return nil
}

// randomPermutation returns a cryptographically random permutation of
// [0,n), used to scatter build records across the wire message so their
// position carries no information about hop order.
func randomPermutation(n int) ([]int, error) {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j, err := randIntn(i + 1)
		if err != nil {
			return nil, err
		}
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm, nil
}

func randIntn(n int) (int, error) {
	if n <= 1 {
		return 0, nil
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
