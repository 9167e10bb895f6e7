// cmd/cordelia is the node daemon entrypoint. It loads the declarative
// config file, wires storage, peer pool, governor, replication engine,
// swarm transport, and the HTTP proxy surface together, then runs the
// background loops (governor tick, anti-entropy sync, tombstone GC,
// keep-alive, periodic snapshot) until signalled to stop.
//
// Example:
//
//	./cordelia --config /etc/cordelia/cordelia.yaml
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"cordelia/internal/api"
	"cordelia/internal/codec"
	"cordelia/internal/config"
	"cordelia/internal/governor"
	"cordelia/internal/metrics"
	"cordelia/internal/peerpool"
	"cordelia/internal/replication"
	"cordelia/internal/storage"
	"cordelia/internal/swarm"
	"cordelia/internal/transport"
)

// selfVersions is the [min,max] protocol version range this build
// advertises during handshake.
var selfVersions = codec.VersionRange{Min: 1, Max: 1}

func main() {
	configPath := flag.String("config", "", "path to cordelia.yaml (defaults to ./cordelia.yaml or /etc/cordelia/cordelia.yaml)")
	httpAddr := flag.String("http-addr", ":8080", "listen address for the l2/groups/devices/diagnostics HTTP surface")
	flag.Parse()

	log := logrus.WithField("component", "main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	store, err := storage.New(cfg.Identity.DatabasePath)
	if err != nil {
		logrus.WithError(err).Fatal("open storage")
	}
	defer store.Close()

	pool, err := peerpool.New(cfg.Identity.Role, cfg.Relay.Posture, cfg.Governor)
	if err != nil {
		logrus.WithError(err).Fatal("construct peer pool")
	}
	if groups, err := store.SharedGroupIDs(context.Background()); err != nil {
		log.WithError(err).Warn("load shared groups at startup")
	} else {
		pool.SetSharedGroups(groups)
	}

	gov := governor.New(pool, cfg.Governor)
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	tr, err := transport.New()
	if err != nil {
		logrus.WithError(err).Fatal("construct transport")
	}
	log.WithField("fingerprint", tr.Fingerprint()).Info("transport certificate ready")

	// Engine and Swarm each depend on the other as an interface
	// (replication.PeerClient is satisfied by Swarm, swarm.Engine is
	// satisfied by Engine); construct the engine with a nil client,
	// build the swarm against it, then bind the swarm back in.
	engine := replication.New(store, pool, nil, gov, met, cfg.Identity.Role, cfg.Replication, cfg.Relay)
	sw := swarm.New(tr, pool, gov, engine, store, cfg.Identity.EntityID, cfg.Identity.Role, selfVersions)
	engine.SetClient(sw)

	router := gin.New()
	router.Use(api.Logger(), api.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"self_id": cfg.Identity.EntityID, "role": string(cfg.Identity.Role), "status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	handler := api.NewHandler(store, engine, pool, met, sw, cfg.Identity.EntityID, cfg.Identity.Role)
	handler.Register(router)

	httpSrv := &http.Server{
		Addr:         *httpAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		log.WithField("addr", *httpAddr).Info("serving l2/groups/devices HTTP surface")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server")
		}
	}()

	go func() {
		if err := sw.Serve(ctx, cfg.Network.ListenAddr); err != nil && ctx.Err() == nil {
			log.WithError(err).Fatal("swarm listen")
		}
	}()

	if addr := cfg.Network.ExternalAddr; addr != "" {
		sw.ReportPeerObservedAddr(addr)
	}

	for _, seed := range cfg.Network.SeedBootnodes {
		go dialSeed(ctx, sw, seed, log)
	}

	go runGovernorLoop(ctx, gov, sw, log)
	go runSyncLoop(ctx, engine, cfg.Replication, log)
	go runGCLoop(ctx, engine, log)
	go sw.RunKeepAlive(ctx)
	go runSnapshotLoop(ctx, store, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := store.Snapshot(); err != nil {
		log.WithError(err).Error("final snapshot")
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http server shutdown")
	}
}

// dialSeed keeps retrying a bootstrap address with backoff until ctx is
// cancelled or the connection succeeds; a seed that never comes up
// should not block the rest of startup.
func dialSeed(ctx context.Context, sw *swarm.Swarm, addr string, log *logrus.Entry) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		dctx, cancel := context.WithTimeout(ctx, swarm.HandshakeTimeout)
		peerID, err := sw.Connect(dctx, addr)
		cancel()
		if err == nil {
			log.WithFields(logrus.Fields{"addr": addr, "peer_id": peerID}).Info("bootstrap connected")
			return
		}
		log.WithError(err).WithField("addr", addr).Warn("bootstrap dial failed, retrying")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runGovernorLoop ticks the peer lifecycle state machine every 10s
// (§4.5) and executes the I/O side effects of whatever actions it
// emits; the governor itself performs no I/O.
func runGovernorLoop(ctx context.Context, gov *governor.Governor, sw *swarm.Swarm, log *logrus.Entry) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, action := range gov.Tick(now) {
				switch action.Kind {
				case governor.ActionDisconnect, governor.ActionBan:
					sw.Disconnect(action.PeerID)
				case governor.ActionSendGroupExchange:
					if err := sw.SendGroupExchange(ctx, action.PeerID); err != nil {
						log.WithError(err).WithField("peer_id", action.PeerID).Debug("group exchange on promotion")
					}
				}
			}
		}
	}
}

// runSyncLoop drives the anti-entropy (pull) side of replication on the
// EffectiveSyncTick (60s) cadence, independent of the governor's tick;
// the engine's per-group deadlines decide which groups are due, so
// taciturn groups still sync only once per taciturn interval.
func runSyncLoop(ctx context.Context, engine *replication.Engine, replCfg config.Replication, log *logrus.Entry) {
	ticker := time.NewTicker(replication.EffectiveSyncTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			engine.RunSyncTick(ctx, now)
		}
	}
}

// runGCLoop periodically purges tombstones past the retention window
// (§4.7's GC housekeeping); the retention duration itself is baked into
// engine at construction time.
func runGCLoop(ctx context.Context, engine *replication.Engine, log *logrus.Entry) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			items, groups, err := engine.RunGC(ctx)
			if err != nil {
				log.WithError(err).Error("tombstone gc")
				continue
			}
			if items > 0 || groups > 0 {
				log.WithFields(logrus.Fields{"items": items, "groups": groups}).Info("tombstone gc swept")
			}
		}
	}
}

// runSnapshotLoop takes a durable snapshot every 60s, matching the
// teacher's background-ticker shape in cmd/server.
func runSnapshotLoop(ctx context.Context, store storage.Driver, log *logrus.Entry) {
	type snapshotter interface {
		Snapshot() error
	}
	s, ok := store.(snapshotter)
	if !ok {
		return
	}
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Snapshot(); err != nil {
				log.WithError(err).Error("periodic snapshot")
			}
		}
	}
}
