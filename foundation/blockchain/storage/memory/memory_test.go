package memory_test

import (
	"testing"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/btcnode/foundation/blockchain/storage/storagetest"
)

func Test_Memory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) database.Storage {
		return memory.New()
	})
}
