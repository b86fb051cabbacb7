package pipeline

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"meshmap/server/internal/keyring"
	"meshmap/server/internal/meshcore"
)

func testRegistry(t *testing.T, keys ...string) *keyring.Registry {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := keyring.Open(filepath.Join(t.TempDir(), "config.json"), keys, logger)
	if err != nil {
		t.Fatalf("keyring.Open() error = %v", err)
	}
	return reg
}

func TestMatchesEmptyRegistryIsAlwaysFalse(t *testing.T) {
	reg := testRegistry(t)
	ks := meshcore.NewKeyStore([]string{"secret"})

	pkt := &meshcore.Packet{
		Path:    []string{"ab", "cd"},
		Decoded: &meshcore.Decoded{ChannelHash: meshcore.ChannelHash("secret")},
	}

	if Matches(pkt, reg, ks) {
		t.Fatal("Matches() = true with empty registry")
	}
}

func TestMatchesChannelHashTest(t *testing.T) {
	reg := testRegistry(t, "secret")
	ks := meshcore.NewKeyStore(reg.Snapshot())

	pkt := &meshcore.Packet{
		Decoded: &meshcore.Decoded{ChannelHash: meshcore.ChannelHash("secret")},
	}

	if !Matches(pkt, reg, ks) {
		t.Fatal("Matches() = false for configured channel hash")
	}
}

func TestMatchesIdentifierSetTest(t *testing.T) {
	reg := testRegistry(t, "AB12CD34")

	pkt := &meshcore.Packet{
		Decoded: &meshcore.Decoded{PublicKey: "ab12cd34"},
	}

	// No key store: the identifier test alone must be sufficient.
	if !Matches(pkt, reg, nil) {
		t.Fatal("Matches() = false for registered public key")
	}
}

func TestMatchesPathHop(t *testing.T) {
	reg := testRegistry(t, "7f")

	pkt := &meshcore.Packet{
		Path:    []string{"01", "7f"},
		Decoded: &meshcore.Decoded{SourceHash: "99"},
	}

	if !Matches(pkt, reg, nil) {
		t.Fatal("Matches() = false for registered path hop")
	}
}

func TestMatchesNoIntersection(t *testing.T) {
	reg := testRegistry(t, "something-else")
	ks := meshcore.NewKeyStore(reg.Snapshot())

	pkt := &meshcore.Packet{
		Path:    []string{"01"},
		Decoded: &meshcore.Decoded{PublicKey: "ab", SourceHash: "cd"},
	}

	if Matches(pkt, reg, ks) {
		t.Fatal("Matches() = true with no overlapping key")
	}
}
