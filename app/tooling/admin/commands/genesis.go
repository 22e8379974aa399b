package commands

import (
	"fmt"

	"github.com/ardanlabs/btcnode/foundation/blockchain/genesis"
	"github.com/spf13/cobra"
)

func genesisCmd() *cobra.Command {
	var network string
	var file string

	cmd := cobra.Command{
		Use:   "genesis",
		Short: "Print and check the genesis parameters of a network or file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := genesis.Network(network)
			if file != "" {
				gen, err = genesis.Load(file)
			}
			if err != nil {
				return err
			}

			block, err := gen.Block()
			if err != nil {
				return fmt.Errorf("genesis block: %w", err)
			}

			if err := printJSON(cmd, gen); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "merkle root %s\n", block.Header.MerkleRoot)
			return err
		},
	}

	cmd.Flags().StringVarP(&network, "network", "n", "regtest", "Built in network: mainnet or regtest.")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Genesis file to load instead of a network.")

	return &cmd
}
