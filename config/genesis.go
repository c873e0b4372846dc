package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Genesis seeds the protocol state of a fresh data directory: fixed oracle
// sources, markets with their risk parameters, and initial balances. It is
// applied exactly once; a populated store ignores the file.
type Genesis struct {
	Sources   []GenesisSource    `yaml:"sources"`
	Markets   []GenesisMarket    `yaml:"markets"`
	Balances  []GenesisBalance   `yaml:"balances"`
	Vaults    []GenesisSuperPool `yaml:"superPools"`
	RateModel []GenesisRateModel `yaml:"rateModels"`
}

// GenesisSource declares a fixed price source. Prices are wad-scaled
// reference values per base unit, as decimal strings.
type GenesisSource struct {
	Name   string            `yaml:"name"`
	Prices map[string]string `yaml:"prices"`
}

// GenesisRateModel declares a kinked rate curve available to markets.
type GenesisRateModel struct {
	Name      string `yaml:"name"`
	BaseRate  string `yaml:"baseRate"`
	Slope1    string `yaml:"slope1"`
	Slope2    string `yaml:"slope2"`
	Kink      string `yaml:"kink"`
	FixedRate string `yaml:"fixedRate"`
}

// GenesisMarket declares an isolated market and its per-asset risk entries.
type GenesisMarket struct {
	Owner      string           `yaml:"owner"`
	Asset      string           `yaml:"asset"`
	RateModel  string           `yaml:"rateModel"`
	DepositCap string           `yaml:"depositCap"`
	BorrowCap  string           `yaml:"borrowCap"`
	Risk       []GenesisLtvPair `yaml:"risk"`
}

// GenesisLtvPair binds one collateral asset in a market to an LTV and an
// oracle source. Genesis entries skip the timelock.
type GenesisLtvPair struct {
	Asset  string `yaml:"asset"`
	Ltv    string `yaml:"ltv"`
	Oracle string `yaml:"oracle"`
}

type GenesisBalance struct {
	Asset   string `yaml:"asset"`
	Address string `yaml:"address"`
	Amount  string `yaml:"amount"`
}

// GenesisSuperPool declares a liquidity router vault created at genesis.
// Members reference markets by position in the markets list.
type GenesisSuperPool struct {
	Owner        string             `yaml:"owner"`
	Asset        string             `yaml:"asset"`
	FeeBps       uint64             `yaml:"feeBps"`
	FeeRecipient string             `yaml:"feeRecipient"`
	AssetCap     string             `yaml:"assetCap"`
	Members      []GenesisVaultPool `yaml:"members"`
}

type GenesisVaultPool struct {
	Market int    `yaml:"market"`
	Cap    string `yaml:"cap"`
}

// LoadGenesis reads and decodes the genesis manifest at path.
func LoadGenesis(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read %s: %w", path, err)
	}
	genesis := &Genesis{}
	if err := yaml.Unmarshal(raw, genesis); err != nil {
		return nil, fmt.Errorf("genesis: decode %s: %w", path, err)
	}
	return genesis, nil
}
