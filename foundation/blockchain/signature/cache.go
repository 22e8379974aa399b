package signature

import (
	"encoding/binary"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/patrickmn/go-cache"
)

// CachedVerifier remembers signatures that verified so the same signature
// seen again on another branch is not checked twice. Failed checks are not
// cached.
type CachedVerifier struct {
	verifier Verifier
	cache    *cache.Cache
}

// NewCachedVerifier wraps a verifier with a cache whose entries expire after
// the given duration.
func NewCachedVerifier(verifier Verifier, expiration time.Duration, cleanup time.Duration) *CachedVerifier {
	return &CachedVerifier{
		verifier: verifier,
		cache:    cache.New(expiration, cleanup),
	}
}

// Verify implements the Verifier interface.
func (cv *CachedVerifier) Verify(sig []byte, pubKey []byte, digest chainhash.Hash) bool {
	key := cacheKey(sig, pubKey, digest)

	if _, found := cv.cache.Get(key); found {
		return true
	}

	if !cv.verifier.Verify(sig, pubKey, digest) {
		return false
	}

	cv.cache.SetDefault(key, struct{}{})
	return true
}

// Len returns the number of cached verifications.
func (cv *CachedVerifier) Len() int {
	return cv.cache.ItemCount()
}

func cacheKey(sig []byte, pubKey []byte, digest chainhash.Hash) string {
	b := make([]byte, 0, len(digest)+len(pubKey)+len(sig)+4)
	b = append(b, digest[:]...)
	b = binary.BigEndian.AppendUint16(b, uint16(len(pubKey)))
	b = append(b, pubKey...)
	b = binary.BigEndian.AppendUint16(b, uint16(len(sig)))
	b = append(b, sig...)

	return string(b)
}
