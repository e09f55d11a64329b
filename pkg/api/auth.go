package api

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Atanda1/offramp/pkg/crypto"
	"github.com/Atanda1/offramp/pkg/storage"
)

const prefixRequestNonce = "rnonce:"

// Auth verifies EIP-712 request signatures and enforces strictly increasing
// per-caller request nonces. Nonces are persisted, so a replayed request is
// rejected even across restarts. A nonce is consumed once the signature
// checks out, whether or not the operation itself succeeds.
type Auth struct {
	mu     sync.Mutex
	signer *crypto.RequestSigner
	kv     *storage.Store
}

func NewAuth(signer *crypto.RequestSigner, kv *storage.Store) *Auth {
	return &Auth{signer: signer, kv: kv}
}

// VerifyDigest recovers the signer of digest and checks it matches the
// declared caller and that nonce advances the caller's request counter.
func (a *Auth) VerifyDigest(digest []byte, sigHex string, declared common.Address, nonce uint64) (common.Address, error) {
	sig, err := decodeSignature(sigHex)
	if err != nil {
		return common.Address{}, err
	}

	recovered, err := crypto.RecoverAddress(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("signature recovery failed: %w", err)
	}
	if recovered != declared {
		return common.Address{}, fmt.Errorf("signature by %s does not match declared caller %s",
			recovered.Hex(), declared.Hex())
	}

	if err := a.consumeNonce(recovered, nonce); err != nil {
		return common.Address{}, err
	}
	return recovered, nil
}

func (a *Auth) consumeNonce(addr common.Address, nonce uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := []byte(prefixRequestNonce + addr.Hex())
	val, found, err := a.kv.Get(key)
	if err != nil {
		return err
	}
	var last uint64
	if found && len(val) == 8 {
		last = binary.BigEndian.Uint64(val)
	}
	if nonce <= last {
		return fmt.Errorf("stale request nonce %d (last %d)", nonce, last)
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	return a.kv.Set(key, buf[:])
}

// LastNonce returns the caller's most recently consumed request nonce.
func (a *Auth) LastNonce(addr common.Address) (uint64, error) {
	val, found, err := a.kv.Get([]byte(prefixRequestNonce + addr.Hex()))
	if err != nil {
		return 0, err
	}
	if !found || len(val) != 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(val), nil
}

func decodeSignature(sigHex string) ([]byte, error) {
	s := strings.TrimPrefix(sigHex, "0x")
	sig, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("invalid signature length: %d", len(sig))
	}
	// Normalize V from 27/28 to 0/1 for go-ethereum's recovery.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	return sig, nil
}
