package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"dataspace/crypto"
)

// Genesis seeds the ledger on first start.
//
//	height: 0
//	balances:
//	  - address: ds1...
//	    amount: "1000"
type Genesis struct {
	Height   uint64           `yaml:"height"`
	Balances []GenesisBalance `yaml:"balances"`
}

type GenesisBalance struct {
	Address string `yaml:"address"`
	Amount  string `yaml:"amount"`
}

// LoadGenesis parses the YAML genesis file at path.
func LoadGenesis(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	var g Genesis
	if err := yaml.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode genesis %s: %w", path, err)
	}
	return &g, nil
}

// Allocations resolves addresses and amounts. Repeated addresses accumulate.
func (g *Genesis) Allocations() (map[[20]byte]*big.Int, error) {
	out := make(map[[20]byte]*big.Int, len(g.Balances))
	for i, bal := range g.Balances {
		key, err := crypto.ParseAccount(strings.TrimSpace(bal.Address))
		if err != nil {
			return nil, fmt.Errorf("genesis balance %d: %w", i, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(bal.Amount), 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("genesis balance %d: invalid amount %q", i, bal.Amount)
		}
		if prev, exists := out[key]; exists {
			amount.Add(amount, prev)
		}
		out[key] = amount
	}
	return out, nil
}
