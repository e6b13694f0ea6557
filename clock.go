package keystone

import "time"

// nowUnixSeconds is the single place every TTL check reads the clock
// from, so a future need to inject a fake clock for tests only touches
// one function.
func nowUnixSeconds() int64 { return time.Now().Unix() }
