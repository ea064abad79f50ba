package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/go-i2p/i2pcore/internal/crypto"
	"github.com/go-i2p/i2pcore/internal/identity"
	"github.com/go-i2p/i2pcore/internal/store"
)

// newNetDBCmd builds the offline netdb inspection subcommand. There is no
// control socket between a running daemon and a separate CLI invocation
// (spec.md §1 excludes that kind of external interface the same way it
// excludes SAM/BOB and the web dashboard), so these commands read
// directly from the on-disk netDb/ shards a live router persists to
// rather than querying a running process.
func newNetDBCmd(dataDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "netdb",
		Short: "Inspect the on-disk NetDB (netDb/rX/routerInfo-*.dat).",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print how many RouterInfos are persisted on disk and how many are floodfills.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return netdbStats(*dataDir)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "lookup <ident-hash-base64>",
		Short: "Print the persisted RouterInfo for a given ident hash, if any.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return netdbLookup(*dataDir, args[0])
		},
	})
	return cmd
}

func netdbStats(dataDir string) error {
	infos, errs := store.New(dataDir).LoadAll()
	for _, e := range errs {
		fmt.Fprintln(os.Stderr, "warning:", e)
	}
	floodfills := 0
	for _, ri := range infos {
		if ri.IsFloodfill() {
			floodfills++
		}
	}
	fmt.Printf("router infos: %d\n", len(infos))
	fmt.Printf("floodfills:   %d\n", floodfills)
	return nil
}

func netdbLookup(dataDir, hashB64 string) error {
	raw, err := crypto.Base64Decode(hashB64)
	if err != nil {
		return fmt.Errorf("decoding ident hash: %w", err)
	}
	target, err := identity.IdentHashFromBytes(raw)
	if err != nil {
		return fmt.Errorf("parsing ident hash: %w", err)
	}

	infos, errs := store.New(dataDir).LoadAll()
	for _, e := range errs {
		fmt.Fprintln(os.Stderr, "warning:", e)
	}
	for _, ri := range infos {
		if ri.IdentHash() != target {
			continue
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 2, 1, ' ', 0)
		fmt.Fprintf(w, "ident hash:\t%s\n", ri.IdentHash())
		fmt.Fprintf(w, "timestamp:\t%s\n", ri.Timestamp)
		fmt.Fprintf(w, "floodfill:\t%v\n", ri.IsFloodfill())
		fmt.Fprintf(w, "addresses:\t%d\n", len(ri.Addresses))
		for k, v := range ri.Options {
			fmt.Fprintf(w, "option %s:\t%s\n", k, v)
		}
		return w.Flush()
	}
	return fmt.Errorf("no persisted router info found for %s", hashB64)
}
