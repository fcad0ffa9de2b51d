package cluster

import (
	"context"
	"testing"

	"github.com/rakunlabs/gate/internal/middleware"
)

func TestLocalClusterRegistersCapturedKey(t *testing.T) {
	c := Local()

	if err := c.RegisterAnthropicKey(context.Background(), "sk-ant-captured"); err != nil {
		t.Fatalf("RegisterAnthropicKey: %v", err)
	}

	key, ok := c.Store().Current("anthropic")
	if !ok || key != "sk-ant-captured" {
		t.Fatalf("got (%q, %v), want (sk-ant-captured, true)", key, ok)
	}
}

func TestLocalClusterStartStopAreNoops(t *testing.T) {
	c := Local()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestLocalClusterReadyIsImmediatelyClosed(t *testing.T) {
	c := Local()
	select {
	case <-c.Ready():
	default:
		t.Fatal("expected a non-clustered instance to be immediately ready")
	}
}

func TestClusterSatisfiesKeyCaptureRegistrar(t *testing.T) {
	var _ middleware.KeyCaptureRegistrar = Local()
}
