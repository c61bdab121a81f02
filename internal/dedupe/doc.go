// Package dedupe coalesces repeated work: a key claimed in a Window is
// refused until its TTL lapses or it is released.
package dedupe
