/*
Package security provides cryptographic services for the hub.

This package implements two core capabilities: key wrapping for
per-instance data keys using AES-256-GCM, and CSPRNG-derived credential
generation for everything provisioning hands to a new instance (database
password, object-store keys, media keys, bootstrap tokens).

# Key Hierarchy

All encryption at rest is rooted in the hub KEK, a 32-byte key read from a
mounted file at startup and immutable for the process lifetime:

	hub KEK (file, 32 bytes)
	   │
	   ▼ AES-256-GCM (Wrap)
	per-instance DEK (generated at provisioning)
	   │
	   ▼ delivered via config document
	instance-side encryption

The KEK never leaves process memory, is never logged, and is never
persisted. Only wrapped DEKs are stored (nonce prepended to ciphertext,
GCM tag appended).

# Token Handling

Bootstrap and federation tokens are 32 random bytes, URL-safe base64
encoded. Only the SHA-256 hash is stored; comparison is constant time.
The plaintext is rendered into the instance config exactly once.

# Usage

Wrapping a fresh instance DEK:

	kw, err := security.NewKeyWrapper(cfg.KEK)
	if err != nil {
	    return err
	}
	dek, err := security.NewInstanceDEK()
	if err != nil {
	    return err
	}
	wrapped, err := kw.Wrap(dek)

Issuing and checking a bootstrap token:

	token, _ := security.GenerateBootstrapToken()
	hash := security.HashToken(token)
	// ... later, at exchange time:
	if !security.VerifyTokenHash(presented, hash) {
	    return ErrBadToken
	}

# Integration Points

  - pkg/provision: GenerateSecrets step creates all instance credentials
  - pkg/configgen: renders wrapped KEK + plaintext bootstrap token into
    the config document
  - pkg/federation: verifies bootstrap tokens, mints federation tokens
  - pkg/config: loads and validates the KEK file
*/
package security
