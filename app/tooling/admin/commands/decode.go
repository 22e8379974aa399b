package commands

import (
	"bytes"
	"fmt"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/merkle"
	"github.com/ardanlabs/btcnode/foundation/blockchain/script"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

func headerHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "header-hash <0xheader>",
		Short: "Print the hash of an 80 byte block header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := hexutil.Decode(args[0])
			if err != nil {
				return err
			}

			if len(b) != database.BlockHeaderSize {
				return fmt.Errorf("header is %d bytes, expected %d", len(b), database.BlockHeaderSize)
			}

			header, err := database.DecodeBlockHeader(bytes.NewReader(b))
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), header.Hash())
			return err
		},
	}
}

// =============================================================================

type txIn struct {
	PrevHash  chainhash.Hash `json:"prev_hash"`
	PrevIndex uint32         `json:"prev_index"`
	SigScript string         `json:"sig_script"`
	Sequence  uint32         `json:"sequence"`
}

type txOut struct {
	Value    string `json:"value"`
	PkScript string `json:"pk_script"`
}

type tx struct {
	Hash     chainhash.Hash `json:"hash"`
	Version  uint32         `json:"version"`
	Coinbase bool           `json:"coinbase"`
	Inputs   []txIn         `json:"inputs"`
	Outputs  []txOut        `json:"outputs"`
	LockTime uint32         `json:"lock_time"`
}

func txDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tx-decode <0xtx>",
		Short: "Decode a transaction in wire form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := hexutil.Decode(args[0])
			if err != nil {
				return err
			}

			t, err := database.ParseTx(b)
			if err != nil {
				return err
			}

			out := tx{
				Hash:     t.Hash(),
				Version:  t.Version(),
				Coinbase: t.IsCoinbase(),
				LockTime: t.LockTime(),
			}

			for _, in := range t.Inputs() {
				sig := disasm(in.SignatureScript)
				if out.Coinbase {
					sig = hexutil.Encode(in.SignatureScript)
				}

				out.Inputs = append(out.Inputs, txIn{
					PrevHash:  in.PreviousOutPoint.Hash,
					PrevIndex: in.PreviousOutPoint.Index,
					SigScript: sig,
					Sequence:  in.Sequence,
				})
			}

			for _, o := range t.Outputs() {
				out.Outputs = append(out.Outputs, txOut{
					Value:    btcutil.Amount(o.Value).String(),
					PkScript: disasm(o.PkScript),
				})
			}

			return printJSON(cmd, out)
		},
	}
}

// disasm renders a script as text or as hex when it does not parse.
func disasm(b []byte) string {
	s, err := script.Disassemble(b)
	if err != nil {
		return hexutil.Encode(b)
	}
	return s
}

// =============================================================================

func scriptDisasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "script-disasm <0xscript>",
		Short: "Print a script as opcodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := hexutil.Decode(args[0])
			if err != nil {
				return err
			}

			s, err := script.Disassemble(b)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), s)
			return err
		},
	}
}

func scriptAsmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "script-asm <opcodes>",
		Short: "Assemble opcode text into a script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := script.Assemble(args[0])
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(b))
			return err
		},
	}
}

// =============================================================================

// txid is a transaction hash used as a merkle leaf.
type txid chainhash.Hash

func (t txid) Hash() chainhash.Hash {
	return chainhash.Hash(t)
}

func (t txid) Equals(other txid) bool {
	return t == other
}

func merkleRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merkle-root <txid>...",
		Short: "Print the merkle root of transaction hashes in block order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			leaves := make([]txid, len(args))
			for i, arg := range args {
				hash, err := chainhash.NewHashFromStr(arg)
				if err != nil {
					return fmt.Errorf("txid %d: %w", i, err)
				}
				leaves[i] = txid(*hash)
			}

			tree, err := merkle.NewTree(leaves)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), tree.MerkleRoot)
			return err
		},
	}
}
