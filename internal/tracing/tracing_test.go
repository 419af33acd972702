package tracing

import (
	"context"
	"testing"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), "chatsyncd", "")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}
