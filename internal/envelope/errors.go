package envelope

import "errors"

// Errors returned by the envelope service. Each is fatal to the single
// message it was raised for and never to the service.
var (
	ErrBadSignature        = errors.New("envelope: signature does not verify")
	ErrMalformedCiphertext = errors.New("envelope: malformed ciphertext")
	ErrInvalidPublicKey    = errors.New("envelope: invalid public key")
	ErrEmptyEnvelope       = errors.New("envelope: missing field")
)
