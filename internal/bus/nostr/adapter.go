// Package nostr implements the bus.Bus capability over the Nostr relay
// protocol using github.com/nbd-wtf/go-nostr, adapted from the way the
// reference channel adapter connects, subscribes, verifies signatures, and
// publishes (github.com/haasonsaas/nexus's internal/channels/nostr).
package nostr

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/tenex-chat/tenex-kernel/internal/bus"
	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
	"github.com/tenex-chat/tenex-kernel/internal/telemetry"
)

// Config configures the relay connection.
type Config struct {
	PrivateKey string
	Relays     []string
}

// Adapter implements bus.Bus by connecting to a set of Nostr relays,
// verifying inbound signatures, and re-subscribing on relay disconnect.
type Adapter struct {
	cfg       Config
	publicKey string
	logger    telemetry.Logger

	mu     sync.Mutex
	relays []*nostr.Relay
}

// New constructs an Adapter. It does not connect until Subscribe or Publish
// is first called.
func New(cfg Config, logger telemetry.Logger) (*Adapter, error) {
	if cfg.PrivateKey == "" {
		return nil, kernelerrors.New(kernelerrors.KindValidation, "nostr: private key is required")
	}
	pub, err := nostr.GetPublicKey(cfg.PrivateKey)
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindValidation, "nostr: derive public key", err)
	}
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Adapter{cfg: cfg, publicKey: pub, logger: logger}, nil
}

// Subscribe connects to every configured relay and streams verified,
// non-self-authored events matching filter until ctx is cancelled. The
// returned channel closes on cancellation; per spec.md §6.1 the caller is
// expected to call Subscribe again on an unexpected relay drop.
func (a *Adapter) Subscribe(ctx context.Context, filter bus.Filter) (<-chan conversation.Event, error) {
	relays, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan conversation.Event, 64)
	nostrFilter := toNostrFilter(filter)

	var wg sync.WaitGroup
	for _, relay := range relays {
		sub, err := relay.Subscribe(ctx, nostr.Filters{nostrFilter})
		if err != nil {
			a.logger.Warn(ctx, "nostr: subscribe failed", "relay", relay.URL, "error", err.Error())
			continue
		}
		wg.Add(1)
		go a.pump(ctx, relay, sub, out, &wg)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

func (a *Adapter) pump(ctx context.Context, relay *nostr.Relay, sub *nostr.Subscription, out chan<- conversation.Event, wg *sync.WaitGroup) {
	defer wg.Done()
	defer sub.Unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if ev == nil || ev.PubKey == a.publicKey {
				continue
			}
			valid, err := ev.CheckSignature()
			if err != nil || !valid {
				a.logger.Warn(ctx, "nostr: dropping event with invalid signature", "event_id", ev.ID, "relay", relay.URL)
				continue
			}
			select {
			case out <- toEvent(*ev):
			case <-ctx.Done():
				return
			}
		}
	}
}

// Publish signs event with the adapter's private key and publishes it to
// every connected relay, succeeding if at least one relay accepts it.
func (a *Adapter) Publish(ctx context.Context, event conversation.Event) error {
	relays, err := a.connect(ctx)
	if err != nil {
		return err
	}

	ne := fromEvent(event, a.publicKey)
	if err := ne.Sign(a.cfg.PrivateKey); err != nil {
		return kernelerrors.Wrap(kernelerrors.KindExecution, "nostr: sign event", err)
	}

	var lastErr error
	for _, relay := range relays {
		if err := relay.Publish(ctx, ne); err != nil {
			lastErr = err
			a.logger.Warn(ctx, "nostr: publish failed on relay", "relay", relay.URL, "error", err.Error())
			continue
		}
		return nil
	}
	return kernelerrors.Wrap(kernelerrors.KindExecution, "nostr: publish failed on every relay", lastErr)
}

func (a *Adapter) connect(ctx context.Context) ([]*nostr.Relay, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.relays) > 0 {
		return a.relays, nil
	}
	var relays []*nostr.Relay
	for _, url := range a.cfg.Relays {
		relay, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			a.logger.Warn(ctx, "nostr: relay connect failed", "relay", url, "error", err.Error())
			continue
		}
		relays = append(relays, relay)
	}
	if len(relays) == 0 {
		return nil, kernelerrors.New(kernelerrors.KindExecution, "nostr: failed to connect to any relay")
	}
	a.relays = relays
	return relays, nil
}

func toNostrFilter(f bus.Filter) nostr.Filter {
	nf := nostr.Filter{Kinds: f.Kinds, Authors: f.Authors}
	if len(f.Tags) > 0 {
		tm := make(nostr.TagMap, len(f.Tags))
		for k, v := range f.Tags {
			tm[k] = v
		}
		nf.Tags = tm
	}
	return nf
}

func toEvent(ev nostr.Event) conversation.Event {
	tags := make([]conversation.Tag, 0, len(ev.Tags))
	for _, t := range ev.Tags {
		if len(t) == 0 {
			continue
		}
		tags = append(tags, conversation.Tag{Label: t[0], Values: append([]string(nil), t[1:]...)})
	}
	return conversation.Event{
		ID:        ev.ID,
		AuthorKey: ev.PubKey,
		Kind:      ev.Kind,
		Content:   ev.Content,
		Tags:      tags,
		CreatedAt: time.Unix(int64(ev.CreatedAt), 0),
	}
}

func fromEvent(e conversation.Event, pubkey string) nostr.Event {
	tags := make(nostr.Tags, 0, len(e.Tags))
	for _, t := range e.Tags {
		tags = append(tags, append(nostr.Tag{t.Label}, t.Values...))
	}
	return nostr.Event{
		PubKey:    pubkey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      e.Kind,
		Tags:      tags,
		Content:   e.Content,
	}
}
