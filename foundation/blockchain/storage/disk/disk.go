// Package disk implements the ability to store and query chain links on
// disk using a bbolt database. Links, positions and the transaction and
// claim indexes each live in their own bucket.
package disk

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/storage"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	bolt "go.etcd.io/bbolt"
)

// Set of buckets used by the database.
var (
	linksBucket     = []byte("links")
	positionsBucket = []byte("positions")
	childrenBucket  = []byte("children")
	branchesBucket  = []byte("branches")
	txsBucket       = []byte("txs")
	claimsBucket    = []byte("claims")
	metaBucket      = []byte("meta")

	genesisKey = []byte("genesis")
	headKey    = []byte("head")
)

const dbPermissions = 0600

// Disk represents the storage implementation for keeping chain links in a
// bbolt database file. This implements the database.Storage interface.
type Disk struct {
	db *bolt.DB
}

// New opens or creates the database file at dbPath.
func New(dbPath string) (*Disk, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(dbPath, dbPermissions, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{linksBucket, positionsBucket, childrenBucket, branchesBucket, txsBucket, claimsBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Disk{db: db}, nil
}

// Close releases the database file.
func (d *Disk) Close() error {
	return d.db.Close()
}

// GetGenesisLink returns the first connected link.
func (d *Disk) GetGenesisLink() (database.Link, bool, error) {
	return d.getMeta(genesisKey)
}

// GetLastLink returns the connected link with the most total difficulty.
func (d *Disk) GetLastLink() (database.Link, bool, error) {
	return d.getMeta(headKey)
}

// GetLink returns the link for the block hash.
func (d *Disk) GetLink(hash chainhash.Hash) (database.Link, bool, error) {
	var link database.Link
	var exists bool

	err := d.db.View(func(tx *bolt.Tx) error {
		var err error
		link, exists, err = getLink(tx, hash)
		return err
	})

	return link, exists, err
}

// GetNextLinks returns the stored children of the block hash.
func (d *Disk) GetNextLinks(hash chainhash.Hash) ([]database.Link, error) {
	var links []database.Link

	err := d.db.View(func(tx *bolt.Tx) error {
		for _, child := range splitHashes(tx.Bucket(childrenBucket).Get(hash[:])) {
			link, exists, err := getLink(tx, child)
			if err != nil {
				return err
			}

			if !exists {
				return database.NewIntegrityError("child %s of %s is not stored", child, hash)
			}

			links = append(links, link)
		}
		return nil
	})

	return links, err
}

// GetClaimedLink returns the link on the branch that holds the claimed
// transaction.
func (d *Disk) GetClaimedLink(branch database.Link, in *database.TxIn) (database.Link, bool, error) {
	hash := in.PreviousOutPoint.Hash
	return d.findOnBranch(branch, txsBucket, hash[:])
}

// GetClaimerLink returns the link on the branch that holds another claim
// of the same output.
func (d *Disk) GetClaimerLink(branch database.Link, in *database.TxIn) (database.Link, bool, error) {
	return d.findOnBranch(branch, claimsBucket, outPointKey(in.PreviousOutPoint))
}

// AddLink stores a new link.
func (d *Disk) AddLink(link database.Link) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		hash := link.Hash()

		if tx.Bucket(linksBucket).Get(hash[:]) != nil {
			return fmt.Errorf("add %s: %w", hash, storage.ErrLinkExists)
		}

		var pos storage.Position
		if !link.IsOrphan() {
			var err error
			if pos, err = position(tx, link); err != nil {
				return err
			}
		}

		if err := putLink(tx, link); err != nil {
			return err
		}

		prev := link.PrevHash()
		children := tx.Bucket(childrenBucket)
		if err := children.Put(prev[:], appendHash(children.Get(prev[:]), hash)); err != nil {
			return err
		}

		if link.IsOrphan() {
			return nil
		}

		return connect(tx, link, pos)
	})
}

// UpdateLink replaces a stored orphan with its connected form.
func (d *Disk) UpdateLink(link database.Link) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		hash := link.Hash()

		stored, exists, err := getLink(tx, hash)
		if err != nil {
			return err
		}

		if !exists {
			return fmt.Errorf("update %s: %w", hash, storage.ErrLinkNotFound)
		}

		if err := storage.CheckUpdate(stored, link); err != nil {
			return err
		}

		pos, err := position(tx, link)
		if err != nil {
			return err
		}

		if err := putLink(tx, link); err != nil {
			return err
		}

		return connect(tx, link, pos)
	})
}

// RemoveLink drops a stored orphan.
func (d *Disk) RemoveLink(hash chainhash.Hash) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		link, exists, err := getLink(tx, hash)
		if err != nil {
			return err
		}

		if !exists {
			return fmt.Errorf("remove %s: %w", hash, storage.ErrLinkNotFound)
		}

		if !link.IsOrphan() {
			return fmt.Errorf("remove %s: %w", hash, storage.ErrNotOrphan)
		}

		if err := tx.Bucket(linksBucket).Delete(hash[:]); err != nil {
			return err
		}

		prev := link.PrevHash()
		children := tx.Bucket(childrenBucket)

		rest := removeHash(children.Get(prev[:]), hash)
		if len(rest) == 0 {
			return children.Delete(prev[:])
		}

		return children.Put(prev[:], rest)
	})
}

// =============================================================================

func (d *Disk) getMeta(key []byte) (database.Link, bool, error) {
	var link database.Link
	var exists bool

	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(key)
		if v == nil {
			return nil
		}

		hash, err := chainhash.NewHash(v)
		if err != nil {
			return database.NewIntegrityError("meta %s: %s", key, err)
		}

		link, exists, err = getLink(tx, *hash)
		if err != nil {
			return err
		}

		if !exists {
			return database.NewIntegrityError("meta %s points to missing link %s", key, hash)
		}

		return nil
	})

	return link, exists, err
}

func (d *Disk) findOnBranch(branch database.Link, bucket []byte, key []byte) (database.Link, bool, error) {
	var found database.Link
	var ok bool

	err := d.db.View(func(tx *bolt.Tx) error {
		tip, exists, err := getPosition(tx, branch.Hash())
		if err != nil {
			return err
		}

		if !exists {
			return database.NewIntegrityError("branch %s is not a stored connected link", branch.Hash())
		}

		var best chainhash.Hash
		var bestHeight uint64
		for _, hash := range splitHashes(tx.Bucket(bucket).Get(key)) {
			pos, exists, err := getPosition(tx, hash)
			if err != nil {
				return err
			}

			if !exists {
				return database.NewIntegrityError("indexed link %s has no position", hash)
			}

			if !pos.IsAncestorOf(tip) {
				continue
			}

			if !ok || pos.Height > bestHeight {
				best, bestHeight, ok = hash, pos.Height, true
			}
		}

		if !ok {
			return nil
		}

		link, exists, err := getLink(tx, best)
		if err != nil {
			return err
		}

		if !exists {
			return database.NewIntegrityError("indexed link %s is not stored", best)
		}

		found = link
		return nil
	})

	return found, ok, err
}

// =============================================================================

func getLink(tx *bolt.Tx, hash chainhash.Hash) (database.Link, bool, error) {
	v := tx.Bucket(linksBucket).Get(hash[:])
	if v == nil {
		return database.Link{}, false, nil
	}

	link, err := decodeLink(hash, v)
	if err != nil {
		return database.Link{}, false, database.NewIntegrityError("decode link %s: %s", hash, err)
	}

	return link, true, nil
}

func putLink(tx *bolt.Tx, link database.Link) error {
	data, err := encodeLink(link)
	if err != nil {
		return fmt.Errorf("encode link %s: %w", link.Hash(), err)
	}

	hash := link.Hash()
	return tx.Bucket(linksBucket).Put(hash[:], data)
}

func getPosition(tx *bolt.Tx, hash chainhash.Hash) (storage.Position, bool, error) {
	v := tx.Bucket(positionsBucket).Get(hash[:])
	if v == nil {
		return storage.Position{}, false, nil
	}

	pos, err := decodePosition(v)
	if err != nil {
		return storage.Position{}, false, database.NewIntegrityError("decode position %s: %s", hash, err)
	}

	return pos, true, nil
}

// position computes where a connected link sits.
func position(tx *bolt.Tx, link database.Link) (storage.Position, error) {
	if tx.Bucket(metaBucket).Get(genesisKey) == nil {
		if err := storage.CheckGenesis(link); err != nil {
			return storage.Position{}, err
		}
		return storage.GenesisPosition, nil
	}

	prev := link.PrevHash()

	parent, exists, err := getLink(tx, prev)
	if err != nil {
		return storage.Position{}, err
	}

	if err := storage.CheckConnect(link, parent, exists); err != nil {
		return storage.Position{}, err
	}

	parentPos, exists, err := getPosition(tx, prev)
	if err != nil {
		return storage.Position{}, err
	}

	if !exists {
		return storage.Position{}, database.NewIntegrityError("connected link %s has no position", prev)
	}

	var n uint32
	if v := tx.Bucket(branchesBucket).Get(prev[:]); v != nil {
		n = binary.LittleEndian.Uint32(v)
	}

	return parentPos.Child(n), nil
}

// connect stores the position of a connected link, indexes its
// transactions and claims, and moves the head when the link has strictly
// more total difficulty.
func connect(tx *bolt.Tx, link database.Link, pos storage.Position) error {
	hash := link.Hash()
	meta := tx.Bucket(metaBucket)

	if err := tx.Bucket(positionsBucket).Put(hash[:], encodePosition(pos)); err != nil {
		return err
	}

	if meta.Get(genesisKey) == nil {
		if err := meta.Put(genesisKey, hash[:]); err != nil {
			return err
		}
	} else {
		prev := link.PrevHash()
		branches := tx.Bucket(branchesBucket)

		var n uint32
		if v := branches.Get(prev[:]); v != nil {
			n = binary.LittleEndian.Uint32(v)
		}

		if err := branches.Put(prev[:], binary.LittleEndian.AppendUint32(nil, n+1)); err != nil {
			return err
		}
	}

	txs := tx.Bucket(txsBucket)
	claims := tx.Bucket(claimsBucket)

	for _, t := range link.Block.Transactions() {
		txHash := t.Hash()
		if err := txs.Put(txHash[:], appendHash(txs.Get(txHash[:]), hash)); err != nil {
			return err
		}

		if t.IsCoinbase() {
			continue
		}

		for _, in := range t.Inputs() {
			key := outPointKey(in.PreviousOutPoint)
			if err := claims.Put(key, appendHash(claims.Get(key), hash)); err != nil {
				return err
			}
		}
	}

	if v := meta.Get(headKey); v != nil {
		headHash, err := chainhash.NewHash(v)
		if err != nil {
			return database.NewIntegrityError("meta %s: %s", headKey, err)
		}

		head, exists, err := getLink(tx, *headHash)
		if err != nil {
			return err
		}

		if exists && link.TotalDifficulty.Cmp(head.TotalDifficulty) <= 0 {
			return nil
		}
	}

	return meta.Put(headKey, hash[:])
}
