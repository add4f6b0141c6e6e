package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"golang.org/x/crypto/sha3"
)

// wireEnvelope is the canonical JSON form. []byte fields encode as base64.
type wireEnvelope struct {
	Version    int    `json:"v"`
	Ciphertext []byte `json:"ct"`
	Payload    []byte `json:"payload"`
	Signature  []byte `json:"sig"`
}

const wireVersion = 1

// Marshal encodes env in its canonical JSON form.
func Marshal(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, ErrEmptyEnvelope
	}
	return json.Marshal(wireEnvelope{
		Version:    wireVersion,
		Ciphertext: env.Ciphertext,
		Payload:    env.Payload,
		Signature:  env.Signature,
	})
}

// Unmarshal decodes the canonical JSON form.
func Unmarshal(data []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if w.Version != wireVersion {
		return nil, fmt.Errorf("decode envelope: unsupported version %d", w.Version)
	}
	if len(w.Ciphertext) == 0 || len(w.Signature) == 0 {
		return nil, ErrEmptyEnvelope
	}
	return &Envelope{Ciphertext: w.Ciphertext, Payload: w.Payload, Signature: w.Signature}, nil
}

// Fingerprint returns the base58 SHA3-256 multihash of data. Transfers carry
// the fingerprint of their envelope signature as a ledger annotation.
func Fingerprint(data []byte) string {
	digest := sha3.Sum256(data)
	encoded, err := multihash.Encode(digest[:], multihash.SHA3_256)
	if err != nil {
		return ""
	}
	return multihash.Multihash(encoded).B58String()
}

// ContentID returns the CIDv1 (raw codec, sha2-256) of env's canonical
// encoding.
func ContentID(env *Envelope) (string, error) {
	data, err := Marshal(env)
	if err != nil {
		return "", err
	}
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("content id: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}
