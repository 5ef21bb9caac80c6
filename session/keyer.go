package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/pgf-fleet/pgfgate/internal/util"
)

const (
	keyerSalt = "pgfgate:ledger"
	keyerInfo = "pgfgate:ledger_key:v1"
)

// Keyer turns bearer tokens into opaque ledger keys. Tokens themselves are
// never stored; the HMAC key lives in a memguard Enclave (encrypted at rest
// in memory) and is only unsealed for the duration of one digest.
type Keyer struct {
	key *memguard.Enclave
}

// NewKeyer derives the digest key from secret with HKDF. An empty secret
// yields a random per-process key, which is fine for a memory ledger but
// makes persistent records unreachable after a restart.
func NewKeyer(secret []byte) (*Keyer, error) {
	var (
		key []byte
		err error
	)
	if len(secret) == 0 {
		key, err = util.RandomBytes(util.HKDFKeyLength)
	} else {
		key, err = util.HKDF(secret, []byte(keyerSalt), []byte(keyerInfo))
	}
	if err != nil {
		return nil, fmt.Errorf("deriving ledger key: %w", err)
	}
	// NewEnclave wipes key.
	return &Keyer{key: memguard.NewEnclave(key)}, nil
}

// Key returns the hex HMAC-SHA256 of token.
func (k *Keyer) Key(token string) (string, error) {
	buf, err := k.key.Open()
	if err != nil {
		return "", fmt.Errorf("opening ledger key: %w", err)
	}
	defer buf.Destroy()
	mac := hmac.New(sha256.New, buf.Bytes())
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
