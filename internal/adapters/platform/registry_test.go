package platform

import (
	"reflect"
	"testing"
)

func TestWebhooksFromSpec(t *testing.T) {
	adapters := WebhooksFromSpec("mastodon=https://bridge/post, x=https://x-bridge/post", "token")
	if len(adapters) != 2 {
		t.Fatalf("expected 2 adapters, got %d", len(adapters))
	}
	registry := NewRegistry(adapters...)
	if got := registry.Names(); !reflect.DeepEqual(got, []string{"mastodon", "x"}) {
		t.Fatalf("unexpected names: %v", got)
	}
	if _, ok := registry.Adapter("mastodon"); !ok {
		t.Fatal("mastodon adapter not registered")
	}
	if _, ok := registry.Adapter("bluesky"); ok {
		t.Fatal("unexpected adapter registered")
	}
}

func TestWebhooksFromSpecSkipsMalformedEntries(t *testing.T) {
	adapters := WebhooksFromSpec("broken, =https://x, name=, good=https://bridge", "")
	if len(adapters) != 1 {
		t.Fatalf("expected 1 adapter, got %d", len(adapters))
	}
	if adapters[0].Name() != "good" {
		t.Fatalf("unexpected adapter: %s", adapters[0].Name())
	}
}
