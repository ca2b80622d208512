// Package license implements the license key lifecycle.
//
// A VendorManager generates license keys: it initializes and validates a
// License, signs it into a repository model and writes the model through
// compression and encryption into a sink. A CachingManager installs, loads,
// verifies and uninstalls the key kept in one store. Verification is a hot
// path, so authenticated decoders and decoded licenses are cached for a
// configurable period. A ChainedManager falls back from a parent manager to
// a local store and provisions a free trial license there at most once.
//
// Every manager operation runs its authorization hook first. Hook errors are
// returned unchanged; every other failure is classified by the errors
// package as a validation, authentication or management error.
package license
