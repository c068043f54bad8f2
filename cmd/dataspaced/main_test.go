package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dataspace/core/runtime"
	"dataspace/core/state"
	"dataspace/crypto"
	"dataspace/storage"
)

func TestResolveGenesisPathPrecedence(t *testing.T) {
	lookup := func(key string) (string, bool) {
		require.Equal(t, genesisPathEnv, key)
		return "env-path", true
	}
	emptyLookup := func(string) (string, bool) { return "", false }

	require.Equal(t, "cli-path", resolveGenesisPath(" cli-path ", "cfg-path", lookup))
	require.Equal(t, "env-path", resolveGenesisPath("", "cfg-path", lookup))
	require.Equal(t, "cfg-path", resolveGenesisPath("", "cfg-path", emptyLookup))
	require.Empty(t, resolveGenesisPath("", "", nil))
}

func TestApplyGenesisOnce(t *testing.T) {
	account := [20]byte{0x42}
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	contents := "height: 3\nbalances:\n  - address: " + crypto.AccountAddress(account).String() + "\n    amount: \"250\"\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := runtime.New(state.NewManager(storage.NewMemDB()), runtime.Config{
		EscrowLockBlocks:   10,
		PunitiveLockBlocks: 10,
	}, runtime.WithLogger(logger))
	ctx := context.Background()

	require.NoError(t, applyGenesis(ctx, rt, path, logger))
	require.NoError(t, applyGenesis(ctx, rt, path, logger))

	balance, err := rt.Balance(account)
	require.NoError(t, err)
	require.Equal(t, "250", balance.String())
	height, err := rt.Height()
	require.NoError(t, err)
	require.Equal(t, uint64(3), height)
}

func TestApplyGenesisWithoutFile(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := runtime.New(state.NewManager(storage.NewMemDB()), runtime.Config{}, runtime.WithLogger(logger))
	require.NoError(t, applyGenesis(context.Background(), rt, "", logger))
}

func TestBlockClockStopsBeforeReturn(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := runtime.New(state.NewManager(storage.NewMemDB()), runtime.Config{}, runtime.WithLogger(logger))

	ctx, cancel := context.WithCancel(context.Background())
	wait := startBlockClock(ctx, rt, time.Millisecond, logger)
	require.Eventually(t, func() bool {
		height, err := rt.Height()
		return err == nil && height >= 2
	}, 2*time.Second, time.Millisecond)

	cancel()
	wait()
	stopped, err := rt.Height()
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	height, err := rt.Height()
	require.NoError(t, err)
	require.Equal(t, stopped, height)
}

func TestBlockClockDisabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := runtime.New(state.NewManager(storage.NewMemDB()), runtime.Config{}, runtime.WithLogger(logger))
	wait := startBlockClock(context.Background(), rt, 0, logger)
	wait()
	height, err := rt.Height()
	require.NoError(t, err)
	require.Zero(t, height)
}
