package fstore

import "context"

// Locker serializes admissions that share a key. Keys are derived from the
// owner plus either the filename or the content digest.
type Locker interface {
	// Lock acquires every key or none. The returned func releases them.
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// NopLocker grants every lock immediately. Duplicate admission is then
// arbitrated only by the metadata store's constraints.
type NopLocker struct{}

func (NopLocker) Lock(context.Context, ...string) (func(), error) { return func() {}, nil }

// FilenameLockKey is the admission key guarding an owner's filename.
func FilenameLockKey(ownerID, filename string) string {
	return ownerID + "|name:" + filename
}

// DigestLockKey is the admission key guarding an owner's content digest.
func DigestLockKey(ownerID, digest string) string {
	return ownerID + "|digest:" + digest
}
