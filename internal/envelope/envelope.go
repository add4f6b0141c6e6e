// Package envelope seals outbound transfer payloads in a post-quantum
// confidentiality and authenticity envelope.
//
// A payload is masked with a keystream derived from an ML-KEM-768 shared
// secret and the result is signed with ML-DSA-65. The signature binds the
// KEM ciphertext and the masked payload together, so neither can be swapped
// without detection.
package envelope

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"golang.org/x/crypto/sha3"
)

// label separates envelope keystreams and signatures from any other use of
// the same keys.
const label = "qgate/envelope/v1"

// Envelope is a sealed payload. Ciphertext is the KEM ciphertext, Payload the
// masked bytes, Signature the ML-DSA-65 signature over both.
type Envelope struct {
	Ciphertext []byte
	Payload    []byte
	Signature  []byte
}

// Service owns the gate's key material. Keys are generated once in New and
// are read-only afterwards, so a Service is safe for concurrent use.
type Service struct {
	kemScheme  kem.Scheme
	signScheme sign.Scheme

	kemPub  kem.PublicKey
	kemPriv kem.PrivateKey
	sigPub  sign.PublicKey
	sigPriv sign.PrivateKey

	kemPubBytes []byte
	sigPubBytes []byte

	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for key generation events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New generates a fresh encapsulation keypair and signing keypair.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		kemScheme:  mlkem768.Scheme(),
		signScheme: mldsa65.Scheme(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	s.kemPub, s.kemPriv, err = s.kemScheme.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate encapsulation keypair: %w", err)
	}
	s.sigPub, s.sigPriv, err = s.signScheme.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate signing keypair: %w", err)
	}
	if s.kemPubBytes, err = s.kemPub.MarshalBinary(); err != nil {
		return nil, fmt.Errorf("pack encapsulation public key: %w", err)
	}
	if s.sigPubBytes, err = s.sigPub.MarshalBinary(); err != nil {
		return nil, fmt.Errorf("pack signing public key: %w", err)
	}

	s.logger.Info("envelope keys generated",
		"kem", s.kemScheme.Name(),
		"signature", s.signScheme.Name(),
		"signing_key", Fingerprint(s.sigPubBytes),
	)
	return s, nil
}

// SigningPublicKey returns the packed ML-DSA-65 public key.
func (s *Service) SigningPublicKey() []byte {
	return bytes.Clone(s.sigPubBytes)
}

// EncapsulationPublicKey returns the packed ML-KEM-768 public key.
func (s *Service) EncapsulationPublicKey() []byte {
	return bytes.Clone(s.kemPubBytes)
}

// Encapsulate seals payload against the service's own encapsulation key.
func (s *Service) Encapsulate(payload []byte) (*Envelope, error) {
	return s.seal(s.kemPub, payload)
}

// EncapsulateFor seals payload against a counterparty's packed encapsulation
// key. The envelope is still signed with the service's signing key.
func (s *Service) EncapsulateFor(recipient []byte, payload []byte) (*Envelope, error) {
	pk, err := s.kemScheme.UnmarshalBinaryPublicKey(recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return s.seal(pk, payload)
}

func (s *Service) seal(pk kem.PublicKey, payload []byte) (*Envelope, error) {
	ct, secret, err := s.kemScheme.Encapsulate(pk)
	if err != nil {
		return nil, fmt.Errorf("encapsulate: %w", err)
	}
	masked := xorMask(secret, payload)
	sig := s.signScheme.Sign(s.sigPriv, signedMessage(ct, masked), nil)
	return &Envelope{Ciphertext: ct, Payload: masked, Signature: sig}, nil
}

// VerifyAndOpen checks env's signature under signingPublicKey and, only if it
// verifies, recovers the payload with the service's decapsulation key.
func (s *Service) VerifyAndOpen(env *Envelope, signingPublicKey []byte) ([]byte, error) {
	if env == nil || len(env.Ciphertext) == 0 || len(env.Signature) == 0 {
		return nil, ErrEmptyEnvelope
	}
	pk, err := s.signScheme.UnmarshalBinaryPublicKey(signingPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ErrBadSignature, ErrInvalidPublicKey, err)
	}
	if len(env.Signature) != s.signScheme.SignatureSize() ||
		!s.signScheme.Verify(pk, signedMessage(env.Ciphertext, env.Payload), env.Signature, nil) {
		return nil, ErrBadSignature
	}
	if len(env.Ciphertext) != s.kemScheme.CiphertextSize() {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedCiphertext, len(env.Ciphertext), s.kemScheme.CiphertextSize())
	}
	secret, err := s.kemScheme.Decapsulate(s.kemPriv, env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	return xorMask(secret, env.Payload), nil
}

// xorMask XORs data with SHAKE-256(label || secret) expanded to len(data).
func xorMask(secret, data []byte) []byte {
	h := sha3.NewShake256()
	_, _ = h.Write([]byte(label))
	_, _ = h.Write(secret)
	out := make([]byte, len(data))
	_, _ = h.Read(out)
	for i := range out {
		out[i] ^= data[i]
	}
	return out
}

func signedMessage(ct, masked []byte) []byte {
	msg := make([]byte, 0, len(label)+len(ct)+len(masked))
	msg = append(msg, label...)
	msg = append(msg, ct...)
	return append(msg, masked...)
}
