package p2p

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/auxroom/auxroom/internal/util"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
)

func init() {
	// Silence noisy libp2p subsystems — dial failures and backoff errors
	// go to stderr by default and pollute terminal output.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("autonat", "warn")
	logging.SetLogLevel("pubsub", "warn")
}

// Node wraps the libp2p host and the gossipsub router that carries all room
// and presence traffic.
type Node struct {
	Host host.Host
	ps   *pubsub.PubSub
}

type mdnsNotifee struct {
	h host.Host
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultConnectTimeout)
	defer cancel()
	_ = n.h.Connect(ctx, pi)
}

// loadOrCreateKey loads a persistent identity key from disk,
// or generates a new Ed25519 key and saves it on first run.
func loadOrCreateKey(keyFile string) (crypto.PrivKey, bool, error) {
	data, err := os.ReadFile(keyFile)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err == nil {
			return priv, false, nil
		}
		log.Printf("WARNING: corrupt identity key at %s: %v (generating new key)", keyFile, err)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, false, err
	}

	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, false, fmt.Errorf("marshal identity key: %w", err)
	}

	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, false, fmt.Errorf("create key directory: %w", err)
		}
	}

	if err := os.WriteFile(keyFile, raw, 0600); err != nil {
		return nil, false, fmt.Errorf("save identity key: %w", err)
	}

	return priv, true, nil
}

// New starts a libp2p host with mDNS discovery and a gossipsub router.
// bootstrap addresses, when given, are dialed best-effort so WAN peers can
// find the mesh without LAN discovery.
func New(ctx context.Context, listenPort int, keyFile, mdnsTag string, bootstrap []string) (*Node, error) {
	priv, isNew, err := loadOrCreateKey(keyFile)
	if err != nil {
		return nil, err
	}
	if isNew {
		log.Printf("P2P: generated new identity key: %s", keyFile)
	} else {
		log.Printf("P2P: loaded identity key: %s", keyFile)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort)),
	)
	if err != nil {
		return nil, err
	}

	md := mdns.NewMdnsService(h, mdnsTag, &mdnsNotifee{h: h})
	if err := md.Start(); err != nil {
		_ = h.Close()
		return nil, err
	}

	for _, s := range bootstrap {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			log.Printf("P2P: skipping invalid bootstrap addr %q: %v", s, err)
			continue
		}
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			log.Printf("P2P: skipping bootstrap addr %q: %v", s, err)
			continue
		}
		go func(pi peer.AddrInfo) {
			dialCtx, cancel := context.WithTimeout(ctx, util.DefaultConnectTimeout)
			defer cancel()
			if err := h.Connect(dialCtx, pi); err != nil {
				log.Printf("P2P: bootstrap dial %s failed: %v", pi.ID, err)
			}
		}(*pi)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	log.Printf("P2P: node up, peer id %s", h.ID())
	return &Node{Host: h, ps: ps}, nil
}

// ID returns the libp2p peer id string.
func (n *Node) ID() string {
	return n.Host.ID().String()
}

// JoinTopic joins a gossipsub topic and subscribes to it.
func (n *Node) JoinTopic(name string) (*pubsub.Topic, *pubsub.Subscription, error) {
	topic, err := n.ps.Join(name)
	if err != nil {
		return nil, nil, fmt.Errorf("join topic %s: %w", name, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		_ = topic.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", name, err)
	}
	return topic, sub, nil
}

func (n *Node) Close() error {
	return n.Host.Close()
}
