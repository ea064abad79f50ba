package netdb

import "errors"

var (
	// ErrSignatureInvalid is returned when a RouterInfo or LeaseSet's
	// signature does not verify under its embedded identity (spec.md §7:
	// reject the RouterInfo, do not quarantine the sender).
	ErrSignatureInvalid = errors.New("netdb: signature does not verify")
	// ErrStaleRouterInfo is returned when a RouterInfo's timestamp falls
	// outside the acceptance window.
	ErrStaleRouterInfo = errors.New("netdb: router info is not fresh")
	// ErrIncompatibleNetID is returned when a RouterInfo declares a netId
	// option different from ours (spec.md §7: "Peer declares incompatible
	// NetID" -> reject all messages).
	ErrIncompatibleNetID = errors.New("netdb: incompatible net id")
	// ErrLeaseSetExpired is returned when a LeaseSet has no unexpired
	// leases at admission time.
	ErrLeaseSetExpired = errors.New("netdb: lease set has no unexpired leases")
	// ErrLookupTimeout is returned to completion callbacks when a lookup's
	// hard deadline elapses without a matching DatabaseStore.
	ErrLookupTimeout = errors.New("netdb: lookup timed out")
	// ErrLookupExhausted is returned when a lookup has used all its
	// attempts against successively-excluded floodfills without success.
	ErrLookupExhausted = errors.New("netdb: lookup exhausted all attempts")
	// ErrNoFloodfillAvailable is returned when a lookup or publish cannot
	// find any eligible floodfill to query.
	ErrNoFloodfillAvailable = errors.New("netdb: no eligible floodfill available")
	// ErrUnknownStoreType is returned for a DatabaseStore whose DataType is
	// neither RouterInfo nor LeaseSet.
	ErrUnknownStoreType = errors.New("netdb: unknown database store type")
)
