// Command i2prouterd assembles a RouterCore from on-disk configuration and
// keys and runs the NetDB and tunnel-engine workers until an interrupt or
// termination signal requests a graceful shutdown (spec.md §6 "Shutdown
// contract"). No transport driver is installed: the transport registry has
// no Sender, so every outbound send fails with transport.ErrNoSession and is
// logged at debug level.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/go-i2p/i2pcore/internal/crypto"
	"github.com/go-i2p/i2pcore/internal/garlic"
	"github.com/go-i2p/i2pcore/internal/i2np"
	"github.com/go-i2p/i2pcore/internal/identity"
	"github.com/go-i2p/i2pcore/internal/metrics"
	"github.com/go-i2p/i2pcore/internal/netdb"
	"github.com/go-i2p/i2pcore/internal/rerr"
	"github.com/go-i2p/i2pcore/internal/routerctx"
	"github.com/go-i2p/i2pcore/internal/routercore"
	"github.com/go-i2p/i2pcore/internal/store"
	"github.com/go-i2p/i2pcore/internal/transport"
	"github.com/go-i2p/i2pcore/internal/tunnel"
	"github.com/go-i2p/i2pcore/internal/tunnel/pool"
	"github.com/go-i2p/i2pcore/pkg/config"
)

func main() {
	var env, dataDir, metricsAddr string

	root := &cobra.Command{
		Use:   "i2prouterd",
		Short: "Run the I2P participant routing core (NetDB, tunnels, garlic, transit).",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(env, dataDir, metricsAddr)
		},
	}
	root.Flags().StringVar(&env, "env", "", "configuration environment overlay (merges <env>.yaml over default.yaml)")
	root.Flags().StringVar(&dataDir, "data-dir", ".", "directory holding router.keys, router.info, netDb/, peerProfiles/")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", ":7657", "address to serve Prometheus metrics on (empty disables)")

	keygenDataDir, keygenEnv := ".", ""
	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a fresh router identity and private key bundle under --data-dir.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return keygen(keygenEnv, keygenDataDir)
		},
	}
	keygenCmd.Flags().StringVar(&keygenDataDir, "data-dir", ".", "directory to write router.keys / router.info into")
	keygenCmd.Flags().StringVar(&keygenEnv, "env", "", "configuration environment overlay, for router.signature_type")
	root.AddCommand(keygenCmd)

	root.AddCommand(newNetDBCmd(&dataDir))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// keygen writes a fresh router.keys/router.info pair. The signing key type
// comes from pkg/config's router.signature_type, defaulting to the
// strongest type the configured key supports, EdDSA-Ed25519, when a field
// is left at that default (spec.md §9 open question resolution).
func keygen(env, dataDir string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	sigType, err := crypto.ParseSigType(cfg.Router.SignatureType)
	if err != nil {
		return fmt.Errorf("invalid router.signature_type: %w", err)
	}

	encPub, encPriv, err := crypto.GenerateElGamalKeyPair()
	if err != nil {
		return fmt.Errorf("generating ElGamal key pair: %w", err)
	}
	sigPair, err := crypto.GenerateSigningKeyPair(sigType)
	if err != nil {
		return fmt.Errorf("generating signing key pair: %w", err)
	}
	id, err := identity.NewRouterIdentity(encPub, sigType, sigPair.PublicKey)
	if err != nil {
		return fmt.Errorf("building router identity: %w", err)
	}

	ks := store.NewLocalKeyStore(dataDir)
	if err := ks.SaveKeys(store.LocalKeys{
		EncryptionPrivateKey: encPriv,
		SigningPrivateKey:    sigPair.PrivateKey,
		SigType:              sigType,
	}); err != nil {
		return fmt.Errorf("saving router keys: %w", err)
	}

	ri := &identity.RouterInfo{
		Identity:  id,
		Timestamp: time.Now(),
		Options:   map[string]string{"caps": "O"},
	}
	if err := ri.Sign(sigPair.PrivateKey); err != nil {
		return fmt.Errorf("signing initial router info: %w", err)
	}
	if err := ks.SaveRouterInfo(ri); err != nil {
		return fmt.Errorf("saving router info: %w", err)
	}
	fmt.Printf("generated router identity %s under %s\n", id.IdentHash(), dataDir)
	return nil
}

func run(env, dataDir, metricsAddr string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := newLogger(cfg.Logging.Level)

	ks := store.NewLocalKeyStore(dataDir)
	keys, err := ks.LoadKeys()
	if err != nil {
		return fmt.Errorf("loading router keys (run 'i2prouterd keygen' first): %w", err)
	}
	// The public halves of both key pairs live in the last-published
	// RouterInfo (its embedded RouterIdentity), so the local identity is
	// reconstructed from router.info rather than re-derived from the
	// private scalars.
	savedRI, err := ks.LoadRouterInfo()
	if err != nil {
		return fmt.Errorf("loading router info (run 'i2prouterd keygen' first): %w", err)
	}
	id := savedRI.Identity

	tier, err := routerctx.ParseBandwidthTier(cfg.Router.BandwidthTier)
	if err != nil {
		return fmt.Errorf("invalid bandwidth tier: %w", err)
	}
	rctx, err := routerctx.New(id, keys.EncryptionPrivateKey, keys.SigningPrivateKey, fmt.Sprint(cfg.Router.NetID), tier, nil, cfg.Router.Floodfill, int64(cfg.Router.MaxTransitHops), log.WithField("component", "routerctx"))
	if err != nil {
		return fmt.Errorf("building router context: %w", err)
	}
	if !cfg.Router.AcceptsTunnels {
		rctx.BeginShutdown()
	}

	// pkg/config's netdb/tunnels sections re-key these package-level
	// tunables before any worker starts; nothing touches them afterward.
	if cfg.NetDB.RepublishInterval > 0 {
		netdb.PublishInterval = cfg.NetDB.RepublishInterval
	}
	if cfg.Tunnels.BuildTimeout > 0 {
		tunnel.BuildTimeout = cfg.Tunnels.BuildTimeout
	}
	if cfg.Tunnels.TunnelLifetime > 0 {
		tunnel.Lifetime = cfg.Tunnels.TunnelLifetime
	}

	promReg := prometheus.NewRegistry()
	met := metrics.New(promReg)

	riStore := store.New(dataDir)
	loaded, loadErrs := riStore.LoadAll()
	for _, e := range loadErrs {
		log.WithError(e).Warn("skipping unreadable router info on disk")
	}

	db := netdb.New(fmt.Sprint(cfg.Router.NetID), log.WithField("component", "netdb"), met)
	now := time.Now()
	for _, ri := range loaded {
		if err := db.AdmitRouterInfo(ri, now); err != nil {
			log.WithError(err).Debug("rejecting loaded router info")
		}
	}

	// Reseed-free static bootstrap (SUPPLEMENTED FEATURE): on a fresh
	// router with an empty netDb/, the seed list is the only way to ever
	// discover a peer, since nothing is persisted until this process has
	// itself learned RouterInfos over the network.
	if cfg.Router.BootstrapRIFile != "" {
		bootstrapped, err := store.LoadBootstrapFile(cfg.Router.BootstrapRIFile)
		if err != nil {
			log.WithError(err).Warn("skipping bootstrap router info file")
		}
		for _, ri := range bootstrapped {
			if err := db.AdmitRouterInfo(ri, now); err != nil {
				log.WithError(err).Debug("rejecting bootstrap router info")
			}
		}
	}

	profiles := netdb.NewProfileStore(filepath.Join(dataDir, "peerProfiles"))
	ids := i2np.NewIDGenerator()
	lookups := netdb.NewLookupManager(db, ids, rctx.IdentHash())
	publisher := netdb.NewPublisher(db, ids, rctx.IdentHash())
	sessions := garlic.NewSessionManager()
	pending := tunnel.NewPendingTable()
	exploratory := pool.New(pool.ExploratoryConfig(cfg.Tunnels.ExploratoryHops, cfg.Tunnels.ExploratoryCount))
	tReg := transport.NewRegistry()
	msgs := i2np.NewPool()
	errs := rerr.NewCounters()
	timers := routercore.Timers{
		ManageRequestsEvery: cfg.NetDB.ManageRequestsEvery,
		ExploreInterval:     cfg.NetDB.ExploreInterval,
		SaveEvery:           cfg.NetDB.SaveEvery,
	}

	core := routercore.New(rctx, db, profiles, lookups, publisher, sessions, pending, exploratory, tReg, ids, msgs, errs, met, riStore, timers, log)

	if metricsAddr != "" {
		go serveMetrics(metricsAddr, promReg, log)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- core.Run(runCtx) }()

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutdown requested")
	case werr := <-errCh:
		cancel()
		if werr != nil {
			return fmt.Errorf("router core worker exited: %w", werr)
		}
		return nil
	}

	cancel()
	<-errCh

	deadline := time.Now().Add(tunnel.Lifetime + time.Second)
	if err := core.Shutdown(deadline); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

func newLogger(level string) *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return logrus.NewEntry(l)
}

func serveMetrics(addr string, reg *prometheus.Registry, log *logrus.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("metrics server stopped")
	}
}
