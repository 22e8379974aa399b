package disk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
	"github.com/ardanlabs/btcnode/foundation/blockchain/difficulty"
	"github.com/ardanlabs/btcnode/foundation/blockchain/storage"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// maxDifficultySize bounds the stored difficulty of a link.
const maxDifficultySize = 64

// maxJunctions bounds the stored path of a link.
const maxJunctions = 1 << 20

// encodeLink writes the link metadata followed by the wire form of the
// block. The block hash is the record key and is not repeated.
//
//	state(1) height(8) difficulty(varbytes) block
func encodeLink(link database.Link) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(byte(link.State))
	buf.Write(binary.LittleEndian.AppendUint64(nil, link.Height))

	if err := wire.WriteVarBytes(&buf, 0, link.TotalDifficulty.Bytes()); err != nil {
		return nil, err
	}

	if err := link.Block.Serialize(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decodeLink restores a link stored under hash.
func decodeLink(hash chainhash.Hash, data []byte) (database.Link, error) {
	r := bytes.NewReader(data)

	state, err := r.ReadByte()
	if err != nil {
		return database.Link{}, fmt.Errorf("state: %w", err)
	}

	var height [8]byte
	if _, err := io.ReadFull(r, height[:]); err != nil {
		return database.Link{}, fmt.Errorf("height: %w", err)
	}

	diff, err := wire.ReadVarBytes(r, 0, maxDifficultySize, "difficulty")
	if err != nil {
		return database.Link{}, err
	}

	block, err := database.DecodeBlockWithHash(r, hash)
	if err != nil {
		return database.Link{}, fmt.Errorf("block: %w", err)
	}

	if r.Len() != 0 {
		return database.Link{}, fmt.Errorf("%d trailing bytes after link", r.Len())
	}

	link := database.Link{
		Block:           block,
		TotalDifficulty: difficulty.FromBytes(diff),
		Height:          binary.LittleEndian.Uint64(height[:]),
		State:           database.LinkState(state),
	}

	return link, nil
}

// =============================================================================

// encodePosition writes the position of a connected link.
//
//	height(8) count(varint) [height(8) branch(4)]...
func encodePosition(pos storage.Position) []byte {
	var buf bytes.Buffer

	buf.Write(binary.LittleEndian.AppendUint64(nil, pos.Height))
	wire.WriteVarInt(&buf, 0, uint64(len(pos.Path)))

	for _, j := range pos.Path {
		buf.Write(binary.LittleEndian.AppendUint64(nil, j.Height))
		buf.Write(binary.LittleEndian.AppendUint32(nil, j.Branch))
	}

	return buf.Bytes()
}

// decodePosition restores a position written by encodePosition.
func decodePosition(data []byte) (storage.Position, error) {
	if len(data) < 8 {
		return storage.Position{}, errors.New("position too short")
	}

	pos := storage.Position{Height: binary.LittleEndian.Uint64(data)}

	r := bytes.NewReader(data[8:])
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return storage.Position{}, fmt.Errorf("junction count: %w", err)
	}

	if count > maxJunctions || uint64(r.Len()) != count*12 {
		return storage.Position{}, fmt.Errorf("bad junction count %d for %d bytes", count, r.Len())
	}

	rest := data[len(data)-r.Len():]
	for i := uint64(0); i < count; i++ {
		j := rest[i*12:]
		pos.Path = append(pos.Path, storage.Junction{
			Height: binary.LittleEndian.Uint64(j),
			Branch: binary.LittleEndian.Uint32(j[8:]),
		})
	}

	return pos, nil
}

// =============================================================================

// outPointKey is the claims bucket key of an outpoint.
func outPointKey(op database.OutPoint) []byte {
	key := make([]byte, chainhash.HashSize+4)
	copy(key, op.Hash[:])
	binary.LittleEndian.PutUint32(key[chainhash.HashSize:], op.Index)
	return key
}

// appendHash adds a hash to a stored list of hashes. The result never
// aliases list.
func appendHash(list []byte, hash chainhash.Hash) []byte {
	out := make([]byte, 0, len(list)+chainhash.HashSize)
	out = append(out, list...)
	return append(out, hash[:]...)
}

// removeHash drops a hash from a stored list of hashes.
func removeHash(list []byte, hash chainhash.Hash) []byte {
	out := make([]byte, 0, len(list))
	for _, h := range splitHashes(list) {
		if h != hash {
			out = append(out, h[:]...)
		}
	}
	return out
}

// splitHashes decodes a stored list of hashes.
func splitHashes(list []byte) []chainhash.Hash {
	hashes := make([]chainhash.Hash, len(list)/chainhash.HashSize)
	for i := range hashes {
		copy(hashes[i][:], list[i*chainhash.HashSize:])
	}
	return hashes
}
