// Command proxy runs the Radiant Stratum proxy: it bridges Stratum v1
// miners to a single Radiant node, building its own block templates
// and share validation instead of delegating work assignment to the
// node's getblocktemplate RPC in real time.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/radiant-proxy/rxdproxy/internal/config"
	"github.com/radiant-proxy/rxdproxy/internal/eventbus"
	"github.com/radiant-proxy/rxdproxy/internal/hashrate"
	"github.com/radiant-proxy/rxdproxy/internal/logging"
	"github.com/radiant-proxy/rxdproxy/internal/metrics"
	"github.com/radiant-proxy/rxdproxy/internal/rpc"
	"github.com/radiant-proxy/rxdproxy/internal/shares"
	"github.com/radiant-proxy/rxdproxy/internal/stratum"
	"github.com/radiant-proxy/rxdproxy/internal/template"
	"github.com/radiant-proxy/rxdproxy/internal/vardiff"
	"github.com/radiant-proxy/rxdproxy/internal/zmqlistener"
)

const pollInterval = 5 * time.Second

func main() {
	logging.Infof("starting radiant stratum proxy")

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("config: %v", err)
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rpcClient := rpc.New(cfg.RPCHost, cfg.RPCPort, cfg.RPCUser, cfg.RPCPass, 10*time.Second)
	tmpl := template.New()
	bus := eventbus.NewBus(0)
	hashrateTracker := hashrate.NewDefaultTracker()

	var vdManager *vardiff.Manager
	if cfg.VarDiffEnabled {
		vdManager = vardiff.NewManager(cfg.VarDiff)
	}

	history, err := shares.NewHistoryWriter(shares.HistoryWriterConfig{Path: cfg.SubmitHistoryPath})
	if err != nil {
		logging.Fatalf("history writer: %v", err)
	}
	defer history.Close()

	var varDiffRecorder shares.VarDiffRecorder
	if vdManager != nil {
		varDiffRecorder = vdManager
	}
	validator := shares.NewValidator(tmpl, rpcClient, hashrateTracker, varDiffRecorder, eventbus.NewShareSink(bus), history)

	updater := template.NewUpdater(rpcClient, tmpl, template.Config{
		ProxySignature:         cfg.ProxySignature,
		NtimeRollSeconds:       cfg.NtimeRollSeconds,
		StaticShareDifficulty:  cfg.StaticShareDifficulty,
		VarDiffEnabled:         cfg.VarDiffEnabled,
		VarDiffStartDifficulty: cfg.VarDiffStartDifficulty,
	})

	reg := prometheus.NewRegistry()
	m := metrics.New("rxdproxy", reg)
	go m.Run(ctx, bus)

	if cfg.EnableZMQ && cfg.ZMQEndpoint != "" {
		name := "mainnet"
		if cfg.Testnet {
			name = "testnet"
		}
		listener := zmqlistener.New(name, cfg.ZMQEndpoint, func(blockHashHex string) {
			if _, err := updater.UpdateOnce(ctx); err != nil {
				logging.Warnf("template refresh after zmq notification: %v", err)
			}
		})
		go func() {
			if err := listener.Run(ctx); err != nil {
				logging.Warnf("zmq listener: %v", err)
			}
		}()
	}

	go pollTemplate(ctx, updater)
	if vdManager != nil {
		go tickVarDiff(ctx, vdManager)
	}

	serverCfg := stratum.Config{
		Address:                fmt.Sprintf("%s:%d", cfg.IP, cfg.Port),
		Extranonce2Size:        cfg.Extranonce2Size,
		Testnet:                cfg.Testnet,
		StaticShareDifficulty:  cfg.StaticShareDifficulty,
		VarDiffEnabled:         cfg.VarDiffEnabled,
		VarDiffStartDifficulty: cfg.VarDiffStartDifficulty,
	}
	server := stratum.NewServer(serverCfg, tmpl, validator, hashrateTracker, vdManager, bus)

	metricsAddr := ":9090"
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	go func() {
		logging.Infof("metrics listening on %s", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Warnf("metrics server: %v", err)
		}
	}()

	go func() {
		if err := server.Start(); err != nil {
			logging.Fatalf("stratum server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Infof("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	metricsServer.Shutdown(shutdownCtx)

	server.Stop()
	logging.Infof("shutdown complete")
}

// pollTemplate refreshes the active template on a fixed interval,
// backstopping the ZMQ fast path if it is disabled or disconnects.
func pollTemplate(ctx context.Context, updater *template.Updater) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := updater.UpdateOnce(ctx); err != nil {
				logging.Warnf("template poll: %v", err)
			}
		}
	}
}

// tickVarDiff drives the VarDiff controller's periodic inactivity sweep
// and state persistence.
func tickVarDiff(ctx context.Context, vd *vardiff.Manager) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			vd.Tick()
		}
	}
}

