package codestore

// codeKeyPrefix is the key prefix for live verification codes.
// Key pattern: verification:code:<phone_hash>.
const codeKeyPrefix = "verification:code:"

// Key builds the storage key for a phone's live verification code. Backends
// use this so both the primary and secondary agree on identity even though
// only the primary's underlying store is actually keyed by string.
func Key(phoneHash string) string { return codeKeyPrefix + phoneHash }
