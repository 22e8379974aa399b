// Package commands contains the admin commands.
package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// New constructs the root command with every admin command attached.
// Results are written to out.
func New(build string, log *zap.SugaredLogger, out io.Writer) *cobra.Command {
	root := cobra.Command{
		Use:           "admin",
		Short:         "Administrative tasks for the node",
		Version:       build,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.AddCommand(
		headerHashCmd(),
		txDecodeCmd(),
		scriptDisasmCmd(),
		scriptAsmCmd(),
		merkleRootCmd(),
		genesisCmd(),
		headCmd(log),
		submitCmd(log),
		submitTxCmd(log),
	)

	return &root
}

// =============================================================================

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
