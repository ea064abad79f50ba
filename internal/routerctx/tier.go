package routerctx

import "fmt"

// BandwidthTier is the advertised capability letter controlling how much
// transit traffic this router volunteers for (spec.md §4.J: "tracks
// advertised bandwidth tier (L/O/P/X mapping to capability letters)").
type BandwidthTier byte

const (
	TierLow      BandwidthTier = 'L'
	TierOnline   BandwidthTier = 'O'
	TierPowerful BandwidthTier = 'P'
	TierExtra    BandwidthTier = 'X'
)

// ParseBandwidthTier validates a single-letter tier string from config.
func ParseBandwidthTier(s string) (BandwidthTier, error) {
	if len(s) != 1 {
		return 0, fmt.Errorf("routerctx: bandwidth tier must be a single letter, got %q", s)
	}
	t := BandwidthTier(s[0])
	switch t {
	case TierLow, TierOnline, TierPowerful, TierExtra:
		return t, nil
	default:
		return 0, fmt.Errorf("routerctx: unknown bandwidth tier %q", s)
	}
}

func (t BandwidthTier) String() string {
	return string(rune(t))
}

// transitCap is the SUPPLEMENTED FEATURE from RouterContext.cpp: the
// advertised bandwidth tier also caps how many transit tunnels this router
// concurrently accepts. Exceeding the cap rejects new transit build records
// with the same nonzero reject byte used for hop-level rejection (spec.md
// §4.G). pkg/config's router.max_transit_tunnels, when positive and lower,
// tightens this ceiling further (see RouterContext.TryAdmitTransit).
func (t BandwidthTier) transitCap() int64 {
	switch t {
	case TierLow:
		return 50
	case TierOnline:
		return 500
	case TierPowerful:
		return 2500
	case TierExtra:
		return 10000
	default:
		return 0
	}
}
