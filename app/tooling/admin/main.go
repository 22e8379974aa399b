// This program performs administrative tasks for the node: decoding wire
// data, working with scripts and genesis files and talking to a node.
package main

import (
	"fmt"
	"os"

	"github.com/ardanlabs/btcnode/app/tooling/admin/commands"
	"github.com/ardanlabs/btcnode/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger. Command output goes to stdout so
	// the logs are kept on stderr.
	log, err := logger.New("ADMIN", "stderr")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {
	return commands.New(build, log, os.Stdout).Execute()
}
