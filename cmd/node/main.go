// Command node runs a single BFT-Raft replica.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bftraft/config"
	"bftraft/keys"
	"bftraft/raft"
	"bftraft/statemachine"
	"bftraft/transport"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "node",
		Short: "Run a BFT-Raft replica",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "node.yaml", "path to node configuration")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("node: build logger: %w", err)
	}
	defer zapLogger.Sync()
	logger := raft.NewLogger(zapLogger)

	signer, err := keys.NewSigner(cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}
	verifier := keys.NewVerifier()

	members := make([]raft.PeerInfo, 0, len(cfg.OtherNodes))
	for _, peer := range cfg.OtherNodes {
		members = append(members, raft.PeerInfo{Id: raft.NodeId(peer.Id), Address: peer.Address})
		if err := verifier.AddNodeKey(raft.NodeId(peer.Id), peer.PublicKey); err != nil {
			return fmt.Errorf("node: %w", err)
		}
	}
	for _, c := range cfg.ClientKeys {
		if err := verifier.AddClientKey(raft.ClientId(c.Id), c.PublicKey); err != nil {
			return fmt.Errorf("node: %w", err)
		}
	}

	membership, err := raft.NewMembership(raft.NodeId(cfg.NodeId), members)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}

	tr, err := transport.NewGRPCTransport(cfg.ListenAddr, raft.NodeId(cfg.NodeId), false)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}
	for _, peer := range cfg.OtherNodes {
		tr.AddPeer(raft.NodeId(peer.Id), peer.Address)
	}
	for _, c := range cfg.ClientKeys {
		if c.Address != "" {
			tr.AddPeer(raft.NodeId(c.Id), c.Address)
		}
	}

	sm, err := statemachine.NewKVStateMachine(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}
	defer sm.Close()

	registry := prometheus.NewRegistry()
	metrics := raft.NewMetrics(registry, raft.NodeId(cfg.NodeId))

	node := raft.NewNode(raft.Config{
		NodeId:      raft.NodeId(cfg.NodeId),
		OtherNodes:  membership.Ids(),
		QuorumSize:  cfg.QuorumSize,
		ElectionMin: cfg.ElectionMin,
		ElectionMax: cfg.ElectionMax,
		Heartbeat:   cfg.Heartbeat,
		Signer:      signer,
		Verifier:    verifier,
	}, membership, tr, sm, logger, metrics)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		_ = http.ListenAndServe(cfg.MetricsAddr, mux)
	}()

	go node.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	node.Stop()
	return nil
}
