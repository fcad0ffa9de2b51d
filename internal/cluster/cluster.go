// Package cluster provides distributed coordination for multiple gateway
// instances using the alan UDP peer discovery library. Its one job here is
// gossiping captured client API keys: once one instance observes a client's
// Anthropic key on a successful request, it sends the key to every peer,
// and each peer records it in its own KeyStore. A peer does not register a
// connector for a key it receives this way.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rakunlabs/alan"

	"github.com/rakunlabs/gate/internal/crypto"
)

// msgTypeCaptureKey identifies a key-capture broadcast message.
const msgTypeCaptureKey = "capture-key"

// clusterMessage is the JSON envelope for messages sent between peers.
type clusterMessage struct {
	Type string `json:"type"`
	// Provider identifies which credential this key belongs to, e.g.
	// "anthropic".
	Provider string `json:"provider"`
	// Key is the captured key, encrypted at rest with the configured
	// encryption key (internal/crypto's "enc:" convention) when one is set,
	// otherwise sent as plaintext.
	Key string `json:"key"`
}

// KeyStore holds the most recently captured key per provider, shared
// in-memory by every goroutine serving requests on this instance.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]string
}

func newKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]string)}
}

// Current returns the most recently captured key for provider, if any.
func (s *KeyStore) Current(provider string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[provider]
	return key, ok
}

func (s *KeyStore) set(provider, key string) {
	s.mu.Lock()
	s.keys[provider] = key
	s.mu.Unlock()
}

// Cluster wraps an alan instance with the gateway's key-capture gossip.
type Cluster struct {
	alan   *alan.Alan
	store  *KeyStore
	encKey []byte
}

// New creates a Cluster from the server's alan configuration. Returns
// nil, nil if cfg is nil (clustering disabled; KeyStore still works
// locally via Local()).
func New(cfg *alan.Config, encKey []byte) (*Cluster, error) {
	if cfg == nil {
		return nil, nil
	}

	a, err := alan.New(*cfg)
	if err != nil {
		return nil, fmt.Errorf("create alan instance: %w", err)
	}

	return &Cluster{alan: a, store: newKeyStore(), encKey: encKey}, nil
}

// Local builds a Cluster with no peer discovery, for single-instance
// deployments. RegisterAnthropicKey only updates the local KeyStore;
// nothing is broadcast.
func Local() *Cluster {
	return &Cluster{store: newKeyStore()}
}

// Store exposes the local key store, which the key-capture registrar
// consults to skip a key it has already captured.
func (c *Cluster) Store() *KeyStore { return c.store }

// RegisterAnthropicKey implements middleware.KeyCaptureRegistrar: it
// records the key locally and, if clustering is enabled, gossips it to
// peers, each of which records it in its own KeyStore.
func (c *Cluster) RegisterAnthropicKey(ctx context.Context, key string) error {
	c.store.set("anthropic", key)

	if c.alan == nil {
		return nil
	}
	return c.broadcastKey(ctx, "anthropic", key)
}

// Start begins the alan peer discovery system in the background. Start
// blocks until the context is cancelled; run it in a goroutine.
func (c *Cluster) Start(ctx context.Context) error {
	if c.alan == nil {
		return nil
	}

	c.alan.OnPeerJoin(func(addr *net.UDPAddr) {
		slog.Info("cluster peer joined", "addr", addr.String())
	})
	c.alan.OnPeerLeave(func(addr *net.UDPAddr) {
		slog.Info("cluster peer left", "addr", addr.String())
	})

	handler := func(_ context.Context, msg alan.Message) {
		var cm clusterMessage
		if err := json.Unmarshal(msg.Data, &cm); err != nil {
			slog.Warn("cluster: invalid message", "from", msg.Addr, "error", err)
			return
		}

		switch cm.Type {
		case msgTypeCaptureKey:
			key := cm.Key
			if c.encKey != nil {
				var err error
				key, err = crypto.Decrypt(cm.Key, c.encKey)
				if err != nil {
					slog.Error("cluster: failed to decrypt captured key", "from", msg.Addr, "error", err)
					return
				}
			}
			c.store.set(cm.Provider, key)
			slog.Info("cluster: captured key from peer", "provider", cm.Provider, "from", msg.Addr)

			if msg.IsRequest() {
				c.alan.Reply(msg, []byte("ok")) //nolint:errcheck
			}
		default:
			slog.Debug("cluster: unknown message type", "type", cm.Type, "from", msg.Addr)
		}
	}

	return c.alan.Start(ctx, handler)
}

// Stop gracefully leaves the cluster.
func (c *Cluster) Stop() error {
	if c.alan == nil {
		return nil
	}
	return c.alan.Stop()
}

// broadcastKey sends a captured key to all peers, best-effort: a failure to
// reach peers must never fail the request that triggered the capture.
func (c *Cluster) broadcastKey(ctx context.Context, provider, key string) error {
	peers := c.alan.Peers()
	if len(peers) == 0 {
		return nil
	}

	encrypted := key
	if c.encKey != nil {
		var err error
		encrypted, err = crypto.Encrypt(key, c.encKey)
		if err != nil {
			return fmt.Errorf("encrypt captured key: %w", err)
		}
	}

	data, err := json.Marshal(clusterMessage{Type: msgTypeCaptureKey, Provider: provider, Key: encrypted})
	if err != nil {
		return fmt.Errorf("marshal cluster message: %w", err)
	}

	broadcastCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	replies, err := c.alan.SendAndWaitReply(broadcastCtx, data)
	if err != nil && ctx.Err() == nil {
		slog.Warn("cluster: key capture broadcast incomplete", "error", err)
	}

	slog.Info("cluster: key capture broadcast complete", "provider", provider, "peers", len(peers), "acks", len(replies))
	return nil
}

// Ready returns a channel that is closed when the cluster is ready. A
// non-clustered instance is always ready.
func (c *Cluster) Ready() <-chan struct{} {
	if c.alan == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.alan.Ready()
}
