// Command divachaind starts a divachain validator node.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/diva-network/divachain/apply"
	"github.com/diva-network/divachain/config"
	"github.com/diva-network/divachain/consensus"
	"github.com/diva-network/divachain/crypto"
	"github.com/diva-network/divachain/crypto/certgen"
	"github.com/diva-network/divachain/events"
	"github.com/diva-network/divachain/httpapi"
	"github.com/diva-network/divachain/indexer"
	"github.com/diva-network/divachain/network"
	"github.com/diva-network/divachain/pool"
	"github.com/diva-network/divachain/registry"
	"github.com/diva-network/divachain/router"
	"github.com/diva-network/divachain/store"
	"github.com/diva-network/divachain/wallet"

	// Import apply modules to trigger their init() self-registration.
	_ "github.com/diva-network/divachain/apply/modules/data"
	_ "github.com/diva-network/divachain/apply/modules/peers"
	_ "github.com/diva-network/divachain/apply/modules/stake"
	_ "github.com/diva-network/divachain/apply/modules/testload"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	genKeys := flag.Bool("genkeys", false, "generate validator key files and exit")
	genCerts := flag.String("gencerts", "", "generate CA + node TLS certs into the given directory and exit")
	genGenesis := flag.String("gengenesis", "", "build a genesis block from the given GenesisDocument JSON file and exit")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	if *genKeys {
		pub, err := wallet.GenerateKeyFiles(cfg.PathKeys, cfg.Ident)
		if err != nil {
			log.Fatal().Err(err).Msg("genkeys")
		}
		fmt.Printf("Generated key files for %q. Public key: %s\n", cfg.Ident, pub.String())
		return
	}

	if *genCerts != "" {
		if err := certgen.GenerateAll(*genCerts, cfg.Ident, nil); err != nil {
			log.Fatal().Err(err).Msg("gencerts")
		}
		fmt.Printf("Certificates generated in %s for node %q\n", *genCerts, cfg.Ident)
		return
	}

	if *genGenesis != "" {
		doc, err := config.LoadGenesisDocument(*genGenesis)
		if err != nil {
			log.Fatal().Err(err).Msg("gengenesis")
		}
		block, err := config.BuildGenesisBlock(doc)
		if err != nil {
			log.Fatal().Err(err).Msg("gengenesis")
		}
		if err := config.WriteGenesisFile(cfg.PathGenesis, block); err != nil {
			log.Fatal().Err(err).Msg("gengenesis")
		}
		fmt.Printf("Genesis block written to %s (hash %s)\n", cfg.PathGenesis, block.Hash.String())
		return
	}

	run(cfg, log)
}

func run(cfg *config.Config, log zerolog.Logger) {
	if !wallet.KeyFilesExist(cfg.PathKeys, cfg.Ident) {
		log.Fatal().Str("path", cfg.PathKeys).Str("ident", cfg.Ident).
			Msg("validator key files not found; run with -genkeys first")
	}
	keyring, err := wallet.LoadKeyFiles(cfg.PathKeys, cfg.Ident)
	if err != nil {
		log.Fatal().Err(err).Msg("load key files")
	}
	defer func() {
		if err := keyring.Zero(); err != nil {
			log.Warn().Err(err).Msg("zero keyring")
		}
	}()

	if err := os.MkdirAll(cfg.PathBlockstore, 0o755); err != nil {
		log.Fatal().Err(err).Msg("mkdir blockstore")
	}
	if err := os.MkdirAll(cfg.PathState, 0o755); err != nil {
		log.Fatal().Err(err).Msg("mkdir state")
	}

	blockDB, err := store.OpenLevelDB(cfg.PathBlockstore)
	if err != nil {
		log.Fatal().Err(err).Msg("open blockstore")
	}
	defer blockDB.Close()

	stateDB, err := store.OpenLevelDB(cfg.PathState)
	if err != nil {
		log.Fatal().Err(err).Msg("open state db")
	}
	defer stateDB.Close()

	reg := registry.New()
	st := store.Open(blockDB, reg)
	if err := st.LoadOrInitGenesis(cfg.PathGenesis); err != nil {
		log.Fatal().Err(err).Msg("load or init genesis")
	}

	emitter := events.NewEmitter()
	data := apply.NewDataStore(stateDB)
	applier := apply.NewExecutor(data, emitter)
	indexer.New(stateDB, emitter)

	txPool := pool.NewTxPool()
	votePool := pool.NewVotePool()
	feed := httpapi.NewFeed(log)

	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		log.Fatal().Err(err).Msg("tls")
	}
	if tlsCfg != nil {
		log.Info().Msg("mTLS enabled for P2P")
	}

	factoryCfg := consensus.Config{
		Version:       1,
		PhaseTimeout:  time.Duration(cfg.NetworkP2PIntervalMs) * time.Millisecond,
		DrainInterval: time.Duration(cfg.NetworkMorphInterval) * time.Millisecond,
		PoolWatermark: 1,
		MaxBlockTx:    cfg.MaxBlockTxs,
	}
	factory := consensus.NewFactory(factoryCfg, reg, st, txPool, votePool, keyring, nil, feed, applier, log)

	seqTracker := router.NewSeqTracker()
	onEnvelope := func(env *router.Envelope) {
		switch p := env.Data.(type) {
		case router.AddTxPayload:
			factory.HandleAddTx(p.Transaction)
		case router.ProposePayload:
			factory.HandlePropose(p.Block)
		case router.SignPayload:
			factory.HandleSign(p.BlockHash, env.Origin, p.Signature)
		case router.ConfirmPayload:
			factory.HandleConfirm(p.Block)
		case router.SyncPayload:
			factory.HandleSyncRequest(env.Origin, p.FromHeight, p.ToHeight)
		default:
			log.Warn().Str("kind", string(env.Data.Kind())).Msg("unhandled envelope kind")
		}
	}

	p2pAddr := fmt.Sprintf("%s:%d", cfg.IP, cfg.Port)
	node := network.NewNode(keyring.PublicKey().String(), p2pAddr, tlsCfg, seqTracker, onEnvelope, log)
	factory.SetBroadcaster(node)

	if err := node.Start(); err != nil {
		log.Fatal().Err(err).Msg("p2p start")
	}
	defer node.Stop()
	log.Info().Str("addr", p2pAddr).Msg("p2p listening")

	seedPeers := make([]crypto.PublicKey, 0, len(cfg.BootstrapPeer))
	for _, bp := range cfg.BootstrapPeer {
		pub, err := crypto.ParsePublicKey(bp.PublicKey)
		if err != nil {
			log.Fatal().Err(err).Str("peer", bp.PublicKey).Msg("parse bootstrap peer key")
		}
		if err := node.AddPeer(bp.PublicKey, bp.Addr); err != nil {
			log.Warn().Err(err).Str("peer", bp.PublicKey).Str("addr", bp.Addr).Msg("connect to bootstrap peer failed")
			continue
		}
		seedPeers = append(seedPeers, pub)
	}

	bootstrapCfg := consensus.BootstrapConfig{
		Host:                cfg.IP,
		Port:                cfg.Port,
		RetryInterval:       time.Duration(cfg.NetworkP2PIntervalMs) * time.Millisecond,
		SelfRegisterTimeout: 30 * time.Second,
	}
	bootstrap := consensus.NewBootstrap(bootstrapCfg, reg, st, factory, keyring, node, seedPeers, log)

	handler := httpapi.NewHandler(st, reg, txPool, votePool, factory, keyring)
	httpServer := httpapi.NewServer(fmt.Sprintf("%s:%d", cfg.IP, cfg.HTTP), cfg.APIToken, handler, log)
	if err := httpServer.Start(); err != nil {
		log.Fatal().Err(err).Msg("http start")
	}
	defer func() {
		if err := httpServer.Stop(); err != nil {
			log.Warn().Err(err).Msg("http stop")
		}
	}()
	log.Info().Int("port", int(cfg.HTTP)).Msg("http admin surface listening")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := bootstrap.Run(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("bootstrap stopped")
		}
	}()

	go func() {
		if err := factory.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("consensus loop stopped")
		}
	}()
	log.Info().Str("validator", keyring.PublicKey().String()).Msg("consensus running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")
	cancel()
}
