package provider

import (
	"testing"
	"time"
)

func TestSharedHTTPClient_PoolsTransport(t *testing.T) {
	model := SharedHTTPClient(30 * time.Second)
	webhook := SharedHTTPClient(0)
	if model.Transport != webhook.Transport {
		t.Fatal("clients should share one transport")
	}
	if model.Timeout != 30*time.Second {
		t.Fatalf("model timeout = %v", model.Timeout)
	}
	if webhook.Timeout != 2*time.Minute {
		t.Fatalf("default timeout = %v, want 2m", webhook.Timeout)
	}
}
