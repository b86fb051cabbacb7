package pipeline

import (
	"meshmap/server/internal/keyring"
	"meshmap/server/internal/meshcore"
)

// Matches decides whether a decoded packet belongs to a channel or identity
// the registry tracks. Two independent tests apply, either one sufficient:
// the key-store channel-hash test and the identifier-set intersection test.
// An empty registry never matches; there is no open-access mode.
func Matches(pkt *meshcore.Packet, keys *keyring.Registry, ks *meshcore.KeyStore) bool {
	if keys.Len() == 0 {
		return false
	}

	if pkt.Decoded != nil && pkt.Decoded.ChannelHash != "" && ks.HasChannelHash(pkt.Decoded.ChannelHash) {
		return true
	}

	for _, id := range packetIdentifiers(pkt) {
		if keys.Contains(id) {
			return true
		}
	}
	return false
}

// packetIdentifiers collects every identifier a packet exposes, normalized.
func packetIdentifiers(pkt *meshcore.Packet) []string {
	var ids []string

	push := func(raw string) {
		if id := keyring.Normalize(raw); id != "" {
			ids = append(ids, id)
		}
	}

	if d := pkt.Decoded; d != nil {
		push(d.PublicKey)
		push(d.SenderPublicKey)
		push(d.SourceHash)
		push(d.DestinationHash)
		push(d.ChannelHash)
	}
	for _, hop := range pkt.Path {
		push(hop)
	}

	return ids
}
