package flags

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testDefaults = FlagSet{
	WriteMode:         WriteModeOutbox,
	HashChainEnabled:  true,
	TimelineEnabled:   true,
	EncryptionEnabled: false,
}

func TestResolve_NoStoreReturnsDefaults(t *testing.T) {
	r := NewResolver(nil, testDefaults)
	assert.Equal(t, testDefaults, r.Resolve(context.Background(), "t-1"))
	assert.Equal(t, testDefaults, r.Defaults())
}

func TestResolve_OverridesMergeOverDefaults(t *testing.T) {
	store := NewMemoryStore()
	store.Set("t-1", Row{Key: KeyWriteMode, Enabled: true, Config: "sync"})
	store.Set("t-1", Row{Key: KeyEncryptionEnabled, Enabled: true})

	r := NewResolver(store, testDefaults)
	set := r.Resolve(context.Background(), "t-1")

	assert.Equal(t, WriteModeSync, set.WriteMode)
	assert.True(t, set.EncryptionEnabled)
	assert.True(t, set.HashChainEnabled, "flags absent from the store keep their defaults")
}

func TestResolve_UnrecognizedWriteModeIgnored(t *testing.T) {
	store := NewMemoryStore()
	store.Set("t-1", Row{Key: KeyWriteMode, Enabled: true, Config: "turbo"})

	r := NewResolver(store, testDefaults)
	assert.Equal(t, WriteModeOutbox, r.Resolve(context.Background(), "t-1").WriteMode)
}

func TestResolve_StoreErrorFallsBackToDefaults(t *testing.T) {
	store := NewMemoryStore()
	store.Err = errors.New("store down")

	r := NewResolver(store, testDefaults)
	assert.Equal(t, testDefaults, r.Resolve(context.Background(), "t-1"))
}

func TestResolve_CacheWithinTTL(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	store := NewMemoryStore()
	store.Set("t-1", Row{Key: KeyWriteMode, Enabled: true, Config: "sync"})

	r := NewResolver(store, testDefaults, WithTTL(30*time.Second), withClock(clock))

	assert.Equal(t, WriteModeSync, r.Resolve(context.Background(), "t-1").WriteMode)

	// The store change is invisible while the cache entry is fresh.
	store.Set("t-1", Row{Key: KeyWriteMode, Enabled: true, Config: "off"})
	assert.Equal(t, WriteModeSync, r.Resolve(context.Background(), "t-1").WriteMode)

	// Past the TTL the next resolve reloads.
	now = now.Add(31 * time.Second)
	assert.Equal(t, WriteModeOff, r.Resolve(context.Background(), "t-1").WriteMode)
}

func TestInvalidateCache_TakesEffectImmediately(t *testing.T) {
	store := NewMemoryStore()
	store.Set("t-1", Row{Key: KeyWriteMode, Enabled: true, Config: "sync"})

	r := NewResolver(store, testDefaults)
	assert.Equal(t, WriteModeSync, r.Resolve(context.Background(), "t-1").WriteMode)

	store.Set("t-1", Row{Key: KeyWriteMode, Enabled: true, Config: "off"})
	r.InvalidateCache("t-1")
	assert.Equal(t, WriteModeOff, r.Resolve(context.Background(), "t-1").WriteMode)
}

func TestInvalidateAll(t *testing.T) {
	store := NewMemoryStore()
	store.Set("t-1", Row{Key: KeyHashChainEnabled, Enabled: false})
	store.Set("t-2", Row{Key: KeyHashChainEnabled, Enabled: false})

	r := NewResolver(store, testDefaults)
	r.Resolve(context.Background(), "t-1")
	r.Resolve(context.Background(), "t-2")

	store.Set("t-1", Row{Key: KeyHashChainEnabled, Enabled: true})
	store.Set("t-2", Row{Key: KeyHashChainEnabled, Enabled: true})
	r.InvalidateAll()

	assert.True(t, r.Resolve(context.Background(), "t-1").HashChainEnabled)
	assert.True(t, r.Resolve(context.Background(), "t-2").HashChainEnabled)
}

func TestNewResolver_InvalidDefaultWriteModeCorrected(t *testing.T) {
	r := NewResolver(nil, FlagSet{WriteMode: "bogus"})
	assert.Equal(t, WriteModeOutbox, r.Defaults().WriteMode)
}

func TestResolve_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	store.Set("t-1", Row{Key: KeyWriteMode, Enabled: true, Config: "outbox"})

	r := NewResolver(store, testDefaults, WithTTL(time.Nanosecond))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				set := r.Resolve(context.Background(), "t-1")
				assert.True(t, set.WriteMode.Valid())
			}
		}()
	}
	wg.Wait()
}
