// Package models defines the persisted share record and the store contract it lives behind.
//
//   - [ShareRecord] : one delegated collaboration session for a single playlist
//   - [ShareStore] : keyed lookup and targeted token updates, implemented in internal/repositories
//
// Token fields on [ShareRecord] always hold ciphertext produced by internal/codec.
package models
