// Package gatewaycfg builds the declarative configuration document a gateway
// container reads at startup.
//
// Generate is pure apart from the embedded timestamp (fixed by Options.Now in
// tests). Merge applies the same managed subtrees onto a document that may
// have been edited by hand and keeps every key the platform does not own.
package gatewaycfg
