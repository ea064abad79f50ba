package netdb

import (
	"time"

	"github.com/go-i2p/i2pcore/internal/crypto"
	"github.com/go-i2p/i2pcore/internal/i2np"
	"github.com/go-i2p/i2pcore/internal/identity"
)

// floodWidth is how many other floodfills a new store is flooded onward to
// (spec.md §4.F: "flood it onward to the three closest other floodfills").
const floodWidth = 3

// StoreResult is the outcome of handling an inbound DatabaseStore.
type StoreResult struct {
	// Admitted is true if the contained record passed validation and was
	// inserted into the store.
	Admitted bool
	Err      error

	// ReplyStatus, if non-nil, must be sent back to ReplyGateway via
	// ReplyTunnelID (spec.md §4.F: "if reply-token != 0, emit a
	// DeliveryStatus back via the specified reply tunnel/router").
	ReplyStatus   *i2np.DeliveryStatus
	ReplyGateway  identity.IdentHash
	ReplyTunnelID uint32

	// Flood holds the onward DatabaseStore messages to send to other
	// floodfills when this router is itself a floodfill and the store was
	// new (spec.md §4.F: "reply-token zeroed").
	Flood []PublishAttempt
}

// HandleDatabaseStore processes an inbound DatabaseStore from `from`,
// admitting the contained RouterInfo or LeaseSet and, if this router is a
// floodfill and the record is new, preparing onward flood messages
// (spec.md §4.F "Incoming DatabaseStore").
func (s *Store) HandleDatabaseStore(from identity.IdentHash, localID identity.IdentHash, msg *i2np.DatabaseStore, now time.Time) StoreResult {
	result := StoreResult{
		ReplyGateway:  msg.ReplyGateway,
		ReplyTunnelID: msg.ReplyTunnelID,
	}
	if msg.ReplyToken != 0 {
		result.ReplyStatus = &i2np.DeliveryStatus{MsgID: msg.ReplyToken, Timestamp: now}
	}

	wasKnown := false
	switch msg.DataType {
	case i2np.DatabaseStoreRouterInfo:
		_, wasKnown = s.RouterInfo(msg.Key)
		body, err := crypto.GzipInflate(msg.Data)
		if err != nil {
			result.Err = err
			return result
		}
		ri, err := identity.ParseRouterInfo(body)
		if err != nil {
			result.Err = err
			return result
		}
		if err := s.AdmitRouterInfo(ri, now); err != nil {
			result.Err = err
			return result
		}
	case i2np.DatabaseStoreLeaseSet:
		_, wasKnown = s.LeaseSet(msg.Key, now)
		ls, err := identity.ParseLeaseSet(msg.Data)
		if err != nil {
			result.Err = err
			return result
		}
		if err := s.AdmitLeaseSet(ls, now); err != nil {
			result.Err = err
			return result
		}
	default:
		result.Err = ErrUnknownStoreType
		return result
	}
	result.Admitted = true

	if !wasKnown && s.IsFloodfill(localID) {
		excluded := map[identity.IdentHash]bool{localID: true, from: true}
		onward := s.ClosestFloodfills(msg.Key, excluded, floodWidth, now)
		for _, target := range onward {
			flooded := *msg
			flooded.ReplyToken = 0
			flooded.ReplyTunnelID = 0
			flooded.ReplyGateway = identity.IdentHash{}
			result.Flood = append(result.Flood, PublishAttempt{Target: target, Store: &flooded})
		}
	}
	return result
}

// LookupResponse is the outcome of handling an inbound DatabaseLookup: at
// most one of Store/SearchReply is set.
type LookupResponse struct {
	Store       *i2np.DatabaseStore
	SearchReply *i2np.DatabaseSearchReply
}

// HandleDatabaseLookup processes an inbound DatabaseLookup from `from`,
// replying with the held record if we have it, or a DatabaseSearchReply
// naming up to three closer peers otherwise (spec.md §4.F "Incoming
// DatabaseLookup"). Results never include the requester itself.
func (s *Store) HandleDatabaseLookup(from identity.IdentHash, localID identity.IdentHash, msg *i2np.DatabaseLookup, now time.Time) LookupResponse {
	excluded := make(map[identity.IdentHash]bool, len(msg.Excluded)+1)
	excluded[from] = true
	for _, h := range msg.Excluded {
		excluded[h] = true
	}

	switch msg.LookupType {
	case i2np.LookupRouterInfo:
		if ri, ok := s.RouterInfo(msg.Key); ok {
			return LookupResponse{Store: &i2np.DatabaseStore{
				Key:      msg.Key,
				DataType: i2np.DatabaseStoreRouterInfo,
				Data:     mustGzip(ri.Serialize()),
			}}
		}
	case i2np.LookupLeaseSet:
		if ls, ok := s.LeaseSet(msg.Key, now); ok {
			return LookupResponse{Store: &i2np.DatabaseStore{
				Key:      msg.Key,
				DataType: i2np.DatabaseStoreLeaseSet,
				Data:     ls.Serialize(),
			}}
		}
	}

	onlyFloodfill := msg.LookupType != i2np.LookupExploration
	closest := s.ClosestRouters(msg.Key, excluded, 3, now, onlyFloodfill)
	return LookupResponse{SearchReply: &i2np.DatabaseSearchReply{
		Key:   msg.Key,
		From:  localID,
		Peers: closest,
	}}
}

func mustGzip(data []byte) []byte {
	out, err := crypto.GzipDeflate(data)
	if err != nil {
		return data
	}
	return out
}
