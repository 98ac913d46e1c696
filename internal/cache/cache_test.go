package cache

import (
	"fmt"
	"testing"
	"testing/synctest"
	"time"

	"playdeck/internal/core"
)

type countingObserver struct {
	hits, misses int
	evictions    map[string]int
}

func (o *countingObserver) ObserveLookup(_ string, hit bool) {
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func (o *countingObserver) ObserveEviction(_, reason string) {
	if o.evictions == nil {
		o.evictions = make(map[string]int)
	}
	o.evictions[reason]++
}

func TestCache_Basic(t *testing.T) {
	c := New[string]("test", 100, 5*time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Error("Empty cache should miss")
	}

	c.Put("a", "alpha")
	v, ok := c.Get("a")
	if !ok || v != "alpha" {
		t.Errorf("Get(a) = %q, %v, want alpha, true", v, ok)
	}

	c.Put("a", "again")
	if v, _ := c.Get("a"); v != "again" {
		t.Errorf("Get(a) after overwrite = %q, want again", v)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		obs := &countingObserver{}
		c := New[int]("test", 100, 5*time.Minute)
		c.SetObserver(obs)

		c.Put("k", 1)

		time.Sleep(4 * time.Minute)
		if _, ok := c.Get("k"); !ok {
			t.Fatal("entry should still be valid before TTL")
		}

		time.Sleep(time.Minute + time.Second)
		if _, ok := c.Get("k"); ok {
			t.Error("entry should miss after TTL")
		}
		if c.Len() != 0 {
			t.Errorf("expired entry should be removed on read, Len() = %d", c.Len())
		}
		if obs.evictions[EvictExpired] != 1 {
			t.Errorf("expired evictions = %d, want 1", obs.evictions[EvictExpired])
		}
	})
}

func TestCache_EvictsOldestInserted(t *testing.T) {
	c := New[int]("test", 100, 5*time.Minute)

	for i := range 101 {
		c.Put(fmt.Sprintf("key%d", i), i)
	}

	if c.Len() != 100 {
		t.Errorf("Len() = %d, want 100", c.Len())
	}
	if _, ok := c.Get("key0"); ok {
		t.Error("first-inserted key should have been evicted")
	}
	for i := 1; i <= 100; i++ {
		if _, ok := c.Get(fmt.Sprintf("key%d", i)); !ok {
			t.Errorf("key%d should be present", i)
		}
	}
}

func TestCache_ReadsDoNotRefreshOrder(t *testing.T) {
	c := New[int]("test", 3, time.Minute)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	c.Get("a")
	c.Put("d", 4)

	if _, ok := c.Get("a"); ok {
		t.Error("a should be evicted despite being read recently")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("b should survive")
	}
}

func TestCache_Clear(t *testing.T) {
	c := New[int]("test", 10, time.Minute)
	c.Put("a", 1)
	c.Put("b", 2)

	c.Clear()

	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("cleared cache should miss")
	}
}

func TestCache_ManyInsertionsKeepWorking(t *testing.T) {
	c := New[int]("test", 10, time.Minute)

	for i := range 500 {
		c.Put(fmt.Sprintf("k%d", i), i)
	}

	for i := 490; i < 500; i++ {
		if v, ok := c.Get(fmt.Sprintf("k%d", i)); !ok || v != i {
			t.Errorf("Get(k%d) = %d, %v", i, v, ok)
		}
	}
	if _, ok := c.Get("k0"); ok {
		t.Error("k0 should be long gone")
	}
}

func TestSearchKey_Normalization(t *testing.T) {
	a := SearchKey(core.SearchQuery{Query: "  Daft   PUNK ", Types: []string{"track", "album"}, Limit: 20})
	b := SearchKey(core.SearchQuery{Query: "daft punk", Types: []string{"Album", "track", "track"}, Limit: 20})

	if a != b {
		t.Errorf("equivalent queries produced different keys:\n%s\n%s", a, b)
	}

	c := SearchKey(core.SearchQuery{Query: "daft punk", Types: []string{"album", "track"}, Limit: 20, Offset: 20})
	if a == c {
		t.Error("different offsets must not share a key")
	}
}

func TestNormalizeQuery_Unicode(t *testing.T) {
	composed := NormalizeQuery("Beyonc\u00e9")
	decomposed := NormalizeQuery("BEYONCE\u0301")

	if composed != decomposed {
		t.Errorf("NormalizeQuery = %q vs %q, want equal", composed, decomposed)
	}
}

func TestListingKey(t *testing.T) {
	if ListingKey("playlists", "me", 50, 0) == ListingKey("playlists", "me", 50, 50) {
		t.Error("pages must not share a key")
	}
}
