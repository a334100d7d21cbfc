package sequence

import "errors"

// ErrStorageUnavailable indicates the counter store or entity lookup could not be reached.
// It is always propagated; allocation never falls back to a stale or zero value.
var ErrStorageUnavailable = errors.New("identifier storage unavailable")

// ErrTenantContextMissing indicates allocation was attempted without a resolved tenant.
var ErrTenantContextMissing = errors.New("tenant context missing")

// ErrCollisionExhausted indicates the collision guard ran out of forward probes.
// Repeated collisions mean the counter is desynchronized from the entity data.
var ErrCollisionExhausted = errors.New("identifier collision probes exhausted")

// ErrMalformedIdentifier indicates an identifier does not match the namespace format.
var ErrMalformedIdentifier = errors.New("malformed identifier")
