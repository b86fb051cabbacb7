package meshcore

import (
	"math"
	"testing"
)

func TestGroupTextRoundTrip(t *testing.T) {
	packetHex, err := EncodeGroupText("My-Secret", 1700000000, "alice", "hello mesh", []byte{0x0a, 0x0b})
	if err != nil {
		t.Fatalf("EncodeGroupText() error = %v", err)
	}

	ks := NewKeyStore([]string{"my-secret"})
	pkt, err := Decode(packetHex, ks)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if pkt.PayloadType != PayloadGroupText {
		t.Fatalf("PayloadType = %v, want group-text", pkt.PayloadType)
	}
	if len(pkt.Path) != 2 || pkt.Path[0] != "0a" || pkt.Path[1] != "0b" {
		t.Fatalf("Path = %v, want [0a 0b]", pkt.Path)
	}
	if pkt.Decoded.ChannelHash != ChannelHash("my-secret") {
		t.Fatalf("ChannelHash = %q, want %q", pkt.Decoded.ChannelHash, ChannelHash("my-secret"))
	}

	d := pkt.Decoded.Decrypted
	if d == nil {
		t.Fatal("Decrypted = nil with matching key")
	}
	if d.Sender != "alice" || d.Message != "hello mesh" || d.Timestamp != 1700000000 {
		t.Fatalf("Decrypted = %+v", d)
	}
}

func TestGroupTextStaysSealedWithoutKey(t *testing.T) {
	packetHex, err := EncodeGroupText("secret-a", 1700000000, "alice", "hidden", nil)
	if err != nil {
		t.Fatalf("EncodeGroupText() error = %v", err)
	}

	for _, ks := range []*KeyStore{nil, NewKeyStore(nil), NewKeyStore([]string{"secret-b"})} {
		pkt, err := Decode(packetHex, ks)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if pkt.Decoded.ChannelHash == "" {
			t.Fatal("ChannelHash empty on sealed packet")
		}
		if pkt.Decoded.Decrypted != nil {
			t.Fatalf("Decrypted = %+v, want nil without the channel key", pkt.Decoded.Decrypted)
		}
	}
}

func TestAdvertRoundTrip(t *testing.T) {
	publicKey := make([]byte, 32)
	for i := range publicKey {
		publicKey[i] = byte(0xf0 | i&0x0f)
	}

	packetHex, err := EncodeAdvert(publicKey, 1700000000, "repeater-1", &GeoPoint{
		Latitude:  -37.8136,
		Longitude: 144.9631,
	}, nil)
	if err != nil {
		t.Fatalf("EncodeAdvert() error = %v", err)
	}

	pkt, err := Decode(packetHex, nil)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if pkt.PayloadType != PayloadAdvert {
		t.Fatalf("PayloadType = %v, want advert", pkt.PayloadType)
	}
	if pkt.Decoded.PublicKey == "" || len(pkt.Decoded.PublicKey) != 64 {
		t.Fatalf("PublicKey = %q", pkt.Decoded.PublicKey)
	}
	if pkt.Decoded.AppData == nil || pkt.Decoded.AppData.Location == nil {
		t.Fatal("advert location missing")
	}

	loc := pkt.Decoded.AppData.Location
	if math.Abs(loc.Latitude-(-37.8136)) > 1e-5 || math.Abs(loc.Longitude-144.9631) > 1e-5 {
		t.Fatalf("location = (%v, %v)", loc.Latitude, loc.Longitude)
	}
	if pkt.Decoded.AppData.Name != "repeater-1" {
		t.Fatalf("Name = %q", pkt.Decoded.AppData.Name)
	}
}

func TestAdvertWithoutLocation(t *testing.T) {
	packetHex, err := EncodeAdvert(make([]byte, 32), 1700000000, "node", nil, nil)
	if err != nil {
		t.Fatalf("EncodeAdvert() error = %v", err)
	}

	pkt, err := Decode(packetHex, nil)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if pkt.Decoded.AppData.Location != nil {
		t.Fatalf("Location = %+v, want nil", pkt.Decoded.AppData.Location)
	}
}

func TestTextMessageRoundTrip(t *testing.T) {
	packetHex, err := EncodeTextMessage(0x12, 0x34, 1700000000, "ping", nil)
	if err != nil {
		t.Fatalf("EncodeTextMessage() error = %v", err)
	}

	pkt, err := Decode(packetHex, nil)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if pkt.Decoded.SourceHash != "12" || pkt.Decoded.DestinationHash != "34" {
		t.Fatalf("hashes = %q/%q", pkt.Decoded.SourceHash, pkt.Decoded.DestinationHash)
	}
	if pkt.Decoded.Decrypted == nil || pkt.Decoded.Decrypted.Message != "ping" {
		t.Fatalf("Decrypted = %+v", pkt.Decoded.Decrypted)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, packetHex := range []string{
		"zz",   // not hex
		"",     // empty
		"3c",   // truncated header only
		"3cff", // path length with no hops
	} {
		if _, err := Decode(packetHex, nil); err == nil {
			t.Fatalf("Decode(%q) succeeded, want error", packetHex)
		}
	}
}

func TestHasChannelHash(t *testing.T) {
	ks := NewKeyStore([]string{"Key-One", "key-two"})

	if !ks.HasChannelHash(ChannelHash("key-one")) {
		t.Fatal("HasChannelHash() = false for configured secret")
	}
	if ks.HasChannelHash("zz") {
		t.Fatal("HasChannelHash() accepted invalid hex")
	}
	if ks.HasChannelHash("") {
		t.Fatal("HasChannelHash() accepted empty hash")
	}
}
