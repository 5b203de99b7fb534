// Package kv provides the hash store abstraction records are synchronized
// to, with in-memory, Redis and Postgres implementations.
//
// A record lives under a two-level address: the key names a namespace
// (a Redis hash) and the field selects one serialized record inside it.
//
// Example usage:
//
//	store, err := kv.NewStoreFromConfig(kv.Config{
//		Backend:   kv.BackendRedis,
//		RedisAddr: "localhost:6379",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	ctx := context.Background()
//	if err := store.HSet(ctx, "bot", "bot", []byte(`{"count":1}`)); err != nil {
//		if errors.Is(err, kv.ErrBackendUnavailable) {
//			log.Printf("remote down (%s)", kv.KindOf(err))
//		}
//	}
//
// Backends register themselves from init; import them for side effects:
//
//	import _ "github.com/leafsii/redisdb/pkg/kv/redis"
//
// Every remote failure is returned as a *RemoteError classified as a
// network, auth, serialization or unknown failure. All of them match
// ErrBackendUnavailable; ErrNotFound never does.
package kv
