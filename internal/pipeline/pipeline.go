// Package pipeline turns opaque subscribed payloads into persisted location
// markers and text messages. Each inbound event walks a fixed sequence:
// extract a hex packet, decode it, classify it against the configured access
// keys, then resolve a location from the structured payload or from decrypted
// free text. Every failure along the way drops the event with a log line;
// nothing here may stall or kill the subscribe loop.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"meshmap/server/internal/droplog"
	"meshmap/server/internal/keyring"
	"meshmap/server/internal/meshcore"
	"meshmap/server/internal/model"
	"meshmap/server/internal/store"
)

// Decoder is the external wire-level packet decoder. A nil key store is
// allowed; sealed content then stays closed.
type Decoder interface {
	Decode(packetHex string, ks *meshcore.KeyStore) (*meshcore.Packet, error)
}

const (
	defaultDecodeTimeout = 2 * time.Second
	droppedPayloadMax    = 4096
)

// Pipeline orchestrates ingestion for every inbound transport event,
// producing zero, one, or two store appends per event.
type Pipeline struct {
	logger   *slog.Logger
	keys     *keyring.Registry
	markers  *store.Log[model.LocationMarker]
	messages *store.Log[model.TextMessage]
	drops    *droplog.Store
	decoder  Decoder

	decodeTimeout time.Duration
	now           func() time.Time
}

// New constructs a pipeline. drops may be nil to disable the audit log.
func New(
	logger *slog.Logger,
	keys *keyring.Registry,
	markers *store.Log[model.LocationMarker],
	messages *store.Log[model.TextMessage],
	drops *droplog.Store,
	decoder Decoder,
) *Pipeline {
	return &Pipeline{
		logger:        logger,
		keys:          keys,
		markers:       markers,
		messages:      messages,
		drops:         drops,
		decoder:       decoder,
		decodeTimeout: defaultDecodeTimeout,
		now:           time.Now,
	}
}

// Handle processes one transport event. It never returns an error: transient
// per-event failures are logged drops, and a failed persist is logged without
// stopping ingestion.
func (p *Pipeline) Handle(ctx context.Context, topic string, payload []byte) {
	packetHex := ExtractPacketHex(payload)
	if packetHex == "" {
		p.drop(ctx, topic, payload, "no packet hex found")
		return
	}

	ks := meshcore.NewKeyStore(p.keys.Snapshot())

	pkt, err := p.decode(ctx, packetHex, ks)
	if err != nil {
		p.drop(ctx, topic, payload, "decode failed: "+err.Error())
		return
	}

	if !Matches(pkt, p.keys, ks) {
		p.drop(ctx, topic, payload, "no key match")
		return
	}

	if lat, lon, ok := LocationFromDecoded(pkt); ok {
		if !validCoordinates(lat, lon) {
			p.drop(ctx, topic, payload, "coordinates out of range")
			return
		}
		p.appendMarker(topic, pkt, lat, lon)
		return
	}

	text := decryptedText(pkt)
	if text == "" {
		p.drop(ctx, topic, payload, "no location or decrypted content")
		return
	}

	if loc, ok := LocationFromText(text); ok {
		// The marker and the residual message are independent appends; a
		// failed persist on one must not block the other.
		p.appendMarker(topic, pkt, loc.Lat, loc.Lon)
		if residual := StripSpan(text, loc.Start, loc.Span); residual != "" {
			p.appendMessage(topic, pkt, residual)
		}
		return
	}

	p.appendMessage(topic, pkt, text)
}

func (p *Pipeline) appendMarker(topic string, pkt *meshcore.Packet, lat, lon float64) {
	marker, err := p.markers.Append(model.LocationMarker{
		Lat:   lat,
		Lon:   lon,
		User:  packetUser(pkt),
		Time:  p.packetTime(pkt),
		Topic: topic,
	})
	if err != nil {
		p.logger.Error("failed to persist marker", "topic", topic, "error", err)
		return
	}
	p.logger.Info("marker saved", "id", marker.ID, "topic", topic, "lat", lat, "lon", lon)
}

func (p *Pipeline) appendMessage(topic string, pkt *meshcore.Packet, text string) {
	msg, err := p.messages.Append(model.TextMessage{
		User:    packetUser(pkt),
		Time:    p.packetTime(pkt),
		Topic:   topic,
		Message: text,
	})
	if err != nil {
		p.logger.Error("failed to persist message", "topic", topic, "error", err)
		return
	}
	p.logger.Info("message saved", "id", msg.ID, "topic", topic, "user", msg.User)
}

// decode runs the external decoder under a deadline so a stuck decode cannot
// stall the subscribe loop.
func (p *Pipeline) decode(ctx context.Context, packetHex string, ks *meshcore.KeyStore) (*meshcore.Packet, error) {
	ctx, cancel := context.WithTimeout(ctx, p.decodeTimeout)
	defer cancel()

	type result struct {
		pkt *meshcore.Packet
		err error
	}

	ch := make(chan result, 1)
	go func() {
		pkt, err := p.decoder.Decode(packetHex, ks)
		ch <- result{pkt: pkt, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.pkt, res.err
	}
}

func (p *Pipeline) drop(ctx context.Context, topic string, payload []byte, reason string) {
	p.logger.Info("event dropped", "topic", topic, "reason", reason)

	if p.drops == nil {
		return
	}

	recCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	entry := model.DroppedEvent{
		Topic:   topic,
		Payload: truncateString(string(payload), droppedPayloadMax),
		Reason:  reason,
	}
	if err := p.drops.Insert(recCtx, entry); err != nil {
		p.logger.Error("failed to record dropped event", "error", err)
	}
}

// packetUser picks the most specific identity the packet exposes.
func packetUser(pkt *meshcore.Packet) string {
	d := pkt.Decoded
	if d == nil {
		return "unknown-user"
	}

	candidates := []string{d.Sender, d.SourceHash, d.PublicKey}
	if d.Decrypted != nil {
		candidates = append([]string{d.Decrypted.Sender}, candidates...)
	}
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return "unknown-user"
}

// packetTime resolves the record timestamp, preferring the decrypted
// timestamp over the payload one. Decoder timestamps are Unix seconds; zero
// means absent and falls back to the wall clock.
func (p *Pipeline) packetTime(pkt *meshcore.Packet) string {
	var ts int64
	if d := pkt.Decoded; d != nil {
		if d.Decrypted != nil && d.Decrypted.Timestamp != 0 {
			ts = d.Decrypted.Timestamp
		} else {
			ts = d.Timestamp
		}
	}

	if ts == 0 {
		return p.now().UTC().Format(time.RFC3339)
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

// decryptedText returns the decrypted free-text content, or "" when the
// packet carries none worth persisting.
func decryptedText(pkt *meshcore.Packet) string {
	if pkt.Decoded == nil || pkt.Decoded.Decrypted == nil {
		return ""
	}
	return strings.TrimSpace(pkt.Decoded.Decrypted.Message)
}

func validCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func truncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
