// Package ttl implements lazy TTL expiration: reads
// hide an item whose TTL attribute has passed without a synchronous
// delete. Expired items stay on disk: neither compaction nor any
// background pass removes them.
package ttl

import "github.com/keystonedb/keystone/internal/base"

// Expired reports whether item carries attr as a Number holding an
// epoch-seconds deadline that is <= nowUnixSeconds. A schema with no
// ttl attribute configured (attr == "") never expires anything; an
// item missing the attribute, or holding it as a non-Number, is never
// considered expired.
func Expired(item base.Item, attr string, nowUnixSeconds int64) bool {
	if attr == "" || item == nil {
		return false
	}
	v, ok := item[attr]
	if !ok || v.Kind != base.KindNumber {
		return false
	}
	deadline, err := base.ParseDecimal(v.Str)
	if err != nil {
		return false
	}
	f, _ := deadline.Float64()
	return int64(f) <= nowUnixSeconds
}
