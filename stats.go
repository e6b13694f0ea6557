package keystone

import "github.com/keystonedb/keystone/internal/lsm"

// Stats mirrors internal/lsm.Stats at the public API boundary.
type Stats = lsm.Stats

// Health mirrors internal/lsm.Health at the public API boundary.
type Health = lsm.Health
