// Package genesis maintains access to the genesis file and the chain
// parameters it carries.
package genesis

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/difficulty"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// genesisCoinbase is the coinbase shared by the main and regression test
// network genesis blocks.
const genesisCoinbase = "0x01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff4d04ffff001d0104455468652054696d65732030332f4a616e2f32303039204368616e63656c6c6f72206f6e206272696e6b206f66207365636f6e64206261696c6f757420666f722062616e6b73ffffffff0100f2052a01000000434104678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea1f61deb649f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5fac00000000"

// Genesis represents the genesis file.
type Genesis struct {
	Network          string         `json:"network"`
	Version          uint32         `json:"version"`
	Timestamp        uint32         `json:"timestamp"`          // Unix seconds of the genesis header.
	Bits             uint32         `json:"bits"`               // Compact target of the genesis header.
	Nonce            uint32         `json:"nonce"`              // Nonce that solves the genesis header.
	Coinbase         string         `json:"coinbase"`           // Hex encoded wire form of the genesis coinbase.
	Hash             chainhash.Hash `json:"hash"`               // Expected hash of the genesis header.
	PowLimitBits     uint32         `json:"pow_limit_bits"`     // Compact form of the easiest allowed target.
	CoinbaseMaturity uint64         `json:"coinbase_maturity"`  // Blocks before a coinbase can be claimed.
	Subsidy          int64          `json:"subsidy"`            // Block reward before any halving.
	HalvingInterval  uint64         `json:"halving_interval"`   // Blocks between reward halvings.
	RetargetInterval uint64         `json:"retarget_interval"`  // Blocks between target adjustments.
	TargetTimespan   uint64         `json:"target_timespan"`    // Expected seconds for one retarget interval.
	NoRetargeting    bool           `json:"no_retargeting"`     // Every block keeps the previous target.
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	err = json.Unmarshal(content, &genesis)
	if err != nil {
		return Genesis{}, err
	}

	if err := genesis.validate(); err != nil {
		return Genesis{}, fmt.Errorf("genesis %s: %w", path, err)
	}

	return genesis, nil
}

// MainNet returns the parameters of the main network.
func MainNet() Genesis {
	return Genesis{
		Network:          "mainnet",
		Version:          1,
		Timestamp:        1231006505,
		Bits:             0x1d00ffff,
		Nonce:            2083236893,
		Coinbase:         genesisCoinbase,
		Hash:             mustHash("000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f"),
		PowLimitBits:     0x1d00ffff,
		CoinbaseMaturity: 100,
		Subsidy:          50 * 100_000_000,
		HalvingInterval:  210_000,
		RetargetInterval: 2016,
		TargetTimespan:   14 * 24 * 60 * 60,
	}
}

// RegTest returns the parameters of the regression test network. Targets
// never change and the target is easy enough to solve on a laptop.
func RegTest() Genesis {
	return Genesis{
		Network:          "regtest",
		Version:          1,
		Timestamp:        1296688602,
		Bits:             0x207fffff,
		Nonce:            2,
		Coinbase:         genesisCoinbase,
		Hash:             mustHash("0f9188f13cb7b2c71f2a335e3a4fc328bf5beb436012afca590b1a11466e2206"),
		PowLimitBits:     0x207fffff,
		CoinbaseMaturity: 100,
		Subsidy:          50 * 100_000_000,
		HalvingInterval:  150,
		RetargetInterval: 2016,
		TargetTimespan:   14 * 24 * 60 * 60,
		NoRetargeting:    true,
	}
}

// Network returns the built in parameters for the named network.
func Network(name string) (Genesis, error) {
	switch name {
	case "mainnet":
		return MainNet(), nil
	case "regtest":
		return RegTest(), nil
	}
	return Genesis{}, fmt.Errorf("unknown network %q", name)
}

// =============================================================================

// Block builds the genesis block and checks it hashes to the expected
// value.
func (g Genesis) Block() (database.Block, error) {
	raw, err := hexutil.Decode(g.Coinbase)
	if err != nil {
		return database.Block{}, fmt.Errorf("coinbase: %w", err)
	}

	coinbase, err := database.ParseTx(raw)
	if err != nil {
		return database.Block{}, fmt.Errorf("coinbase: %w", err)
	}

	header := database.BlockHeader{
		Version:   g.Version,
		Timestamp: g.Timestamp,
		Bits:      g.Bits,
		Nonce:     g.Nonce,
	}

	block, err := database.NewBlock(header, []*database.Tx{coinbase})
	if err != nil {
		return database.Block{}, err
	}

	block.Header.MerkleRoot = block.CalculatedMerkleRoot()

	block, err = database.NewBlock(block.Header, block.Transactions())
	if err != nil {
		return database.Block{}, err
	}

	if block.Hash() != g.Hash {
		return database.Block{}, fmt.Errorf("genesis hashes to %s, expected %s", block.Hash(), g.Hash)
	}

	return block, nil
}

// MaxTarget returns the easiest target a block may claim.
func (g Genesis) MaxTarget() *big.Int {
	return blockchain.CompactToBig(g.PowLimitBits)
}

// RetargetParams returns the parameters used to adjust the target.
func (g Genesis) RetargetParams() difficulty.RetargetParams {
	return difficulty.RetargetParams{
		MaxTarget:      g.MaxTarget(),
		TargetTimespan: time.Duration(g.TargetTimespan) * time.Second,
	}
}

// BlockSubsidy returns the reward a coinbase at height may claim.
func (g Genesis) BlockSubsidy(height uint64) int64 {
	return difficulty.CalcSubsidy(height, g.Subsidy, g.HalvingInterval)
}

// IsRetargetHeight reports whether a block at height starts a new retarget
// interval.
func (g Genesis) IsRetargetHeight(height uint64) bool {
	if g.NoRetargeting || g.RetargetInterval == 0 || height <= database.GenesisHeight {
		return false
	}
	return (height-database.GenesisHeight)%g.RetargetInterval == 0
}

// =============================================================================

func (g Genesis) validate() error {
	if g.PowLimitBits == 0 {
		return fmt.Errorf("pow_limit_bits is required")
	}

	if !g.NoRetargeting && (g.RetargetInterval == 0 || g.TargetTimespan == 0) {
		return fmt.Errorf("retarget_interval and target_timespan are required unless no_retargeting is set")
	}

	if _, err := g.Block(); err != nil {
		return err
	}

	return nil
}

func mustHash(s string) chainhash.Hash {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic(err)
	}
	return *h
}
