package commands_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ardanlabs/btcnode/app/tooling/admin/commands"
	"github.com/ardanlabs/btcnode/foundation/blockchain/genesis"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func run(t *testing.T, args ...string) string {
	var out bytes.Buffer

	cmd := commands.New("test", zap.NewNop().Sugar(), &out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())

	return strings.TrimSpace(out.String())
}

func Test_Decode(t *testing.T) {
	gen := genesis.MainNet()

	block, err := gen.Block()
	require.NoError(t, err)

	got := run(t, "header-hash", hexutil.Encode(block.Header.Bytes()))
	require.Equal(t, "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f", got)

	coinbase := block.Transactions()[0]

	// A single transaction is its own merkle root.
	got = run(t, "merkle-root", coinbase.Hash().String())
	require.Equal(t, block.Header.MerkleRoot.String(), got)

	var tx struct {
		Hash     string `json:"hash"`
		Coinbase bool   `json:"coinbase"`
		Outputs  []struct {
			Value string `json:"value"`
		} `json:"outputs"`
	}
	require.NoError(t, json.Unmarshal([]byte(run(t, "tx-decode", gen.Coinbase)), &tx))
	require.True(t, tx.Coinbase)
	require.Equal(t, coinbase.Hash().String(), tx.Hash)
	require.Equal(t, "50 BTC", tx.Outputs[0].Value)
}

func Test_Script(t *testing.T) {
	asm := run(t, "script-asm", "OP_DUP OP_HASH160")
	require.Equal(t, "0x76a9", asm)

	text := run(t, "script-disasm", asm)
	require.Contains(t, text, "OP_DUP")
	require.Contains(t, text, "OP_HASH160")
}

func Test_Genesis(t *testing.T) {
	out := run(t, "genesis", "--network", "regtest")
	require.Contains(t, out, genesis.RegTest().Hash.String())

	var out2 bytes.Buffer
	cmd := commands.New("test", zap.NewNop().Sugar(), &out2)
	cmd.SetArgs([]string{"genesis", "--network", "testnet9"})
	require.Error(t, cmd.Execute())
}
