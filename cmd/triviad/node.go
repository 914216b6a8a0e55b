package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/tolelom/zktrivia/config"
	"github.com/tolelom/zktrivia/consensus"
	"github.com/tolelom/zktrivia/core"
	"github.com/tolelom/zktrivia/events"
	"github.com/tolelom/zktrivia/indexer"
	"github.com/tolelom/zktrivia/rpc"
	"github.com/tolelom/zktrivia/storage"
	"github.com/tolelom/zktrivia/vm"
	"github.com/tolelom/zktrivia/wallet"
	"github.com/tolelom/zktrivia/zk/local"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/zktrivia/vm/modules/trivia"
)

func runNode(ctx context.Context, cfg *config.Config, password string) error {
	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		return err
	}
	if password == "" {
		logger.Warn(passwordEnv + " not set, keystores use an empty password")
	}

	// ---- keys ----
	seqKey, created, err := wallet.LoadOrCreateKey(cfg.KeyFile, password)
	if err != nil {
		return fmt.Errorf("sequencer key: %w", err)
	}
	if created {
		logger.Info("generated sequencer key", "file", cfg.KeyFile)
	}
	engKey, created, err := wallet.LoadOrCreateKey(cfg.Engine.KeyFile, password)
	if err != nil {
		return fmt.Errorf("engine key: %w", err)
	}
	if created {
		logger.Info("generated engine key", "file", cfg.Engine.KeyFile)
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		return fmt.Errorf("blockchain init: %w", err)
	}

	// ---- genesis block (if fresh chain) ----
	if bc.Tip() == nil {
		genesis, err := config.CreateGenesisBlock(cfg, state, seqKey, engKey.Public().Hex())
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		if err := bc.AddBlock(genesis); err != nil {
			return fmt.Errorf("add genesis: %w", err)
		}
		logger.Info("genesis block committed", "hash", genesis.Hash, "chain_id", cfg.Genesis.ChainID)
	}
	params, err := state.GetParams()
	if err != nil {
		return fmt.Errorf("load params: %w", err)
	}
	if params.Engine != engKey.Public().Hex() {
		logger.Warn("local engine key is not the chain's engine identity; callbacks will be rejected",
			"chain_engine", params.Engine, "local_engine", engKey.Public().Hex())
	}
	engAcc, err := state.GetAccount(engKey.Public().Hex())
	if err != nil {
		return fmt.Errorf("engine account: %w", err)
	}

	// ---- wiring ----
	emitter := events.NewEmitter(logger)
	idx := indexer.New(db, emitter, logger)
	mempool := core.NewMempool()
	engine, err := local.New(local.Config{
		ChainID: params.ChainID,
		Key:     engKey,
		Nodes:   cfg.Engine.Nodes,
		Nonce:   engAcc.Nonce,
	}, mempool, logger)
	if err != nil {
		return err
	}
	mempool.Exempt(engine.Identity())
	exec := vm.NewExecutor(state, engine, emitter, logger)
	seq := consensus.New(cfg, bc, state, mempool, exec, emitter, seqKey, logger)

	// ---- RPC ----
	hub := rpc.NewHub(emitter, cfg.RPCWSOrigins, logger)
	handler := rpc.NewHandler(bc, mempool, db, idx, engine, params.ChainID)
	server := rpc.NewServer(cfg.RPCAddr, handler, hub, cfg.RPCAuthToken, logger)
	if err := server.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	defer func() {
		if err := server.Stop(); err != nil {
			logger.Error("rpc stop", "err", err)
		}
	}()
	if cfg.RPCAuthToken != "" {
		logger.Info("RPC bearer token authentication enabled")
	}

	// ---- run until signalled or halted ----
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx, cfg.Engine.Interval)
	}()
	logger.Info("sequencer running", "sequencer", seqKey.Public().String(), "engine", engKey.Public().String())

	runErr := seq.Run(ctx, cfg.BlockInterval)
	stop()
	wg.Wait()
	if runErr != nil {
		return runErr
	}
	logger.Info("shutdown complete")
	return nil
}
