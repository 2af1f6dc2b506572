// Package crypto implements symmetric payload encryption for streams and
// propagation. Payloads are sealed with AES-256-GCM; keys are 32 random
// bytes, base64url-encoded, persisted in a 0600 file under the config
// directory. Rotation installs a fresh active key and retains a bounded
// ring of previous keys so older ciphertexts stay decryptable.
package crypto
