// internal/store/redis_test.go
package store

import (
	"testing"

	"github.com/user/voicehub/internal/types"
)

func TestThreadKeyNamespacing(t *testing.T) {
	id := types.ThreadID("abc-123")
	key := threadKey(types.ThreadLiveStream, id)
	if key != "thread:live_stream:abc-123" {
		t.Errorf("unexpected key: %s", key)
	}

	typ, parsed, ok := ParseThreadKey(key)
	if !ok {
		t.Fatal("ParseThreadKey rejected a valid key")
	}
	if typ != types.ThreadLiveStream || parsed != id {
		t.Errorf("round trip mismatch: %s %s", typ, parsed)
	}
}

func TestParseThreadKeyRejectsOtherKeys(t *testing.T) {
	for _, key := range []string{"tidx:abc", "wm:foo", "link:abc", "thread:only-two"} {
		if _, _, ok := ParseThreadKey(key); ok {
			t.Errorf("key %q should not parse as a thread key", key)
		}
	}
}

func TestAuxiliaryKeys(t *testing.T) {
	if indexKey("x") != "tidx:x" {
		t.Errorf("unexpected index key: %s", indexKey("x"))
	}
	if linkKey("x") != "link:x" {
		t.Errorf("unexpected link key: %s", linkKey("x"))
	}
	if memoryKey("run:1") != "wm:run:1" {
		t.Errorf("unexpected memory key: %s", memoryKey("run:1"))
	}
}
