package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	protocol "github.com/BendDAO/bend-lending-protocol-sub001/config"
	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/wadray"
	"github.com/BendDAO/bend-lending-protocol-sub001/services/lendingd/config"
)

func TestOpenStateConfiguresThenRestores(t *testing.T) {
	dir := t.TempDir()
	cfg, err := protocol.Load(filepath.Join(dir, "bend.toml"))
	require.NoError(t, err)
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Genesis.Balances = []protocol.Balance{{
		Asset:  cfg.Oracle.BaseCurrency,
		Holder: "0x000000000000000000000000000000000000a11c",
		Amount: "5000000000000000000",
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first, err := openState(cfg, logger)
	require.NoError(t, err)
	require.False(t, first.restored)
	weth := common.HexToAddress(cfg.Oracle.BaseCurrency)
	alice := common.HexToAddress("0x000000000000000000000000000000000000a11c")
	require.NoError(t, first.deployment.Pool.Deposit(alice, weth, wadray.Wad(2), alice))
	_, err = first.store.Save(first.deployment.Pool)
	require.NoError(t, err)
	require.NoError(t, first.store.SaveVault(first.deployment.Vault))
	first.db.Close()

	second, err := openState(cfg, logger)
	require.NoError(t, err)
	defer second.db.Close()
	require.True(t, second.restored)
	require.Equal(t, wadray.Wad(3).Dec(), second.deployment.Vault.BalanceOf(weth, alice).Dec())
	balances, err := second.deployment.Pool.UserReserveBalances(alice)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	require.Equal(t, wadray.Wad(2).Dec(), balances[0].Supply.Dec())
}

func TestLoadServerTLS(t *testing.T) {
	tlsCfg, err := loadServerTLS(config.TLSConfig{AllowInsecure: true})
	require.NoError(t, err)
	require.Nil(t, tlsCfg)

	_, err = loadServerTLS(config.TLSConfig{})
	require.Error(t, err)
	_, err = loadServerTLS(config.TLSConfig{CertPath: "missing.crt", KeyPath: "missing.key"})
	require.Error(t, err)
}
