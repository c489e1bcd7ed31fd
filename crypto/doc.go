// Package crypto implements the password-derived encryption envelope used for
// network transmission.
//
// Each message is encrypted independently: a fresh 8-byte salt feeds
// PBKDF2-HMAC-SHA256 (10,000 iterations) to derive a 128-bit AES key, and a
// fresh 12-byte nonce feeds AES-GCM. The wire layout of an encrypted blob is
//
//	salt(8) || iv(12) || ciphertext+tag
//
// Decryption failures are reported uniformly as ErrDecryptionFailed whether
// the password was wrong, the ciphertext was forged, or the blob was
// malformed, so callers cannot be used as a padding or length oracle.
package crypto
