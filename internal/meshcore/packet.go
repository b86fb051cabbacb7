// Package meshcore implements the mesh-radio packet codec consumed by the
// ingestion pipeline. Packets travel as hex strings; the layout is a one-byte
// header (version, payload type, route type), a hop path, and a
// payload-type-specific body. Group-text bodies are sealed with a key derived
// from the channel secret and can only be opened through a KeyStore.
package meshcore

import (
	"encoding/hex"
	"fmt"
	"io"
)

// PayloadType identifies the packet body layout.
type PayloadType int

const (
	PayloadTextMessage PayloadType = 0
	PayloadAdvert      PayloadType = 1
	PayloadGroupText   PayloadType = 2
)

func (t PayloadType) String() string {
	switch t {
	case PayloadTextMessage:
		return "text-message"
	case PayloadAdvert:
		return "advert"
	case PayloadGroupText:
		return "group-text"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// GeoPoint is a decoded latitude/longitude pair in degrees.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// AppData carries the application fields of an advert payload.
type AppData struct {
	Name     string
	Location *GeoPoint
}

// Decrypted is the opened content of a sealed group-text body, or the clear
// content of a plain text-message body.
type Decrypted struct {
	Sender    string
	Timestamp int64
	Message   string
}

// Decoded exposes the payload fields the consumer may probe. Identifier fields
// are lower-case hex; absent fields are empty or nil.
type Decoded struct {
	PublicKey       string
	SenderPublicKey string
	SourceHash      string
	DestinationHash string
	ChannelHash     string
	Sender          string
	Timestamp       int64
	AppData         *AppData
	Decrypted       *Decrypted
}

// Packet is a decoded mesh packet.
type Packet struct {
	Version     int
	RouteType   int
	PayloadType PayloadType
	Path        []string
	Decoded     *Decoded
}

const (
	publicKeyLen    = 32
	nonceLen        = 12
	advertHasLocBit = 0x01
	microdeg        = 1e6
)

// PacketDecoder decodes hex-encoded packets. The zero value is ready to use.
type PacketDecoder struct{}

// Decode parses a hex-encoded packet. A nil key store is allowed: group-text
// packets still decode, but their sealed content stays closed.
func (PacketDecoder) Decode(packetHex string, ks *KeyStore) (*Packet, error) {
	raw, err := hex.DecodeString(packetHex)
	if err != nil {
		return nil, fmt.Errorf("decode packet hex: %w", err)
	}

	rd := bytesReader(raw)

	header, err := rd.readByte()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	pkt := &Packet{
		Version:     int(header >> 6),
		PayloadType: PayloadType((header >> 2) & 0x0F),
		RouteType:   int(header & 0x03),
	}

	pathLen, err := rd.readByte()
	if err != nil {
		return nil, fmt.Errorf("read path length: %w", err)
	}
	for i := 0; i < int(pathLen); i++ {
		hop, err := rd.readByte()
		if err != nil {
			return nil, fmt.Errorf("read path hop: %w", err)
		}
		pkt.Path = append(pkt.Path, hex.EncodeToString([]byte{hop}))
	}

	switch pkt.PayloadType {
	case PayloadTextMessage:
		pkt.Decoded, err = decodeTextMessage(&rd)
	case PayloadAdvert:
		pkt.Decoded, err = decodeAdvert(&rd)
	case PayloadGroupText:
		pkt.Decoded, err = decodeGroupText(&rd, ks)
	default:
		return nil, fmt.Errorf("unsupported payload type %d", int(pkt.PayloadType))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", pkt.PayloadType, err)
	}

	return pkt, nil
}

// Decode parses a hex-encoded packet with the default decoder.
func Decode(packetHex string, ks *KeyStore) (*Packet, error) {
	return PacketDecoder{}.Decode(packetHex, ks)
}

func decodeTextMessage(rd *bytesReader) (*Decoded, error) {
	src, err := rd.readByte()
	if err != nil {
		return nil, fmt.Errorf("read source hash: %w", err)
	}
	dst, err := rd.readByte()
	if err != nil {
		return nil, fmt.Errorf("read destination hash: %w", err)
	}
	ts, err := rd.readUint32()
	if err != nil {
		return nil, fmt.Errorf("read timestamp: %w", err)
	}

	message := string(rd.readBytes(rd.remaining()))

	return &Decoded{
		SourceHash:      hex.EncodeToString([]byte{src}),
		DestinationHash: hex.EncodeToString([]byte{dst}),
		Timestamp:       int64(ts),
		Decrypted:       &Decrypted{Timestamp: int64(ts), Message: message},
	}, nil
}

func decodeAdvert(rd *bytesReader) (*Decoded, error) {
	pubKey := rd.readBytes(publicKeyLen)
	if len(pubKey) != publicKeyLen {
		return nil, fmt.Errorf("truncated public key")
	}
	ts, err := rd.readUint32()
	if err != nil {
		return nil, fmt.Errorf("read timestamp: %w", err)
	}
	flags, err := rd.readByte()
	if err != nil {
		return nil, fmt.Errorf("read flags: %w", err)
	}

	appData := &AppData{}
	if flags&advertHasLocBit != 0 {
		lat, err := rd.readInt32()
		if err != nil {
			return nil, fmt.Errorf("read latitude: %w", err)
		}
		lon, err := rd.readInt32()
		if err != nil {
			return nil, fmt.Errorf("read longitude: %w", err)
		}
		appData.Location = &GeoPoint{
			Latitude:  float64(lat) / microdeg,
			Longitude: float64(lon) / microdeg,
		}
	}
	appData.Name = string(rd.readBytes(rd.remaining()))

	return &Decoded{
		PublicKey: hex.EncodeToString(pubKey),
		Sender:    appData.Name,
		Timestamp: int64(ts),
		AppData:   appData,
	}, nil
}

func decodeGroupText(rd *bytesReader, ks *KeyStore) (*Decoded, error) {
	hash, err := rd.readByte()
	if err != nil {
		return nil, fmt.Errorf("read channel hash: %w", err)
	}
	nonce := rd.readBytes(nonceLen)
	if len(nonce) != nonceLen {
		return nil, fmt.Errorf("truncated nonce")
	}
	sealed := rd.readBytes(rd.remaining())

	decoded := &Decoded{ChannelHash: hex.EncodeToString([]byte{hash})}

	plain, ok := ks.openGroupText(hash, nonce, sealed)
	if !ok {
		return decoded, nil
	}

	prd := bytesReader(plain)
	ts, err := prd.readUint32()
	if err != nil {
		return nil, fmt.Errorf("read sealed timestamp: %w", err)
	}
	senderLen, err := prd.readByte()
	if err != nil {
		return nil, fmt.Errorf("read sender length: %w", err)
	}
	sender := prd.readBytes(int(senderLen))
	if len(sender) != int(senderLen) {
		return nil, fmt.Errorf("truncated sender")
	}

	decoded.Timestamp = int64(ts)
	decoded.Decrypted = &Decrypted{
		Sender:    string(sender),
		Timestamp: int64(ts),
		Message:   string(prd.readBytes(prd.remaining())),
	}

	return decoded, nil
}

type bytesReader []byte

func (b *bytesReader) readByte() (byte, error) {
	if len(*b) == 0 {
		return 0, io.EOF
	}
	v := (*b)[0]
	*b = (*b)[1:]
	return v, nil
}

func (b *bytesReader) readUint32() (uint32, error) {
	if len(*b) < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	v := uint32((*b)[0]) | uint32((*b)[1])<<8 | uint32((*b)[2])<<16 | uint32((*b)[3])<<24
	*b = (*b)[4:]
	return v, nil
}

func (b *bytesReader) readInt32() (int32, error) {
	v, err := b.readUint32()
	return int32(v), err
}

func (b *bytesReader) readBytes(n int) []byte {
	if len(*b) < n {
		n = len(*b)
	}
	out := make([]byte, n)
	copy(out, (*b)[:n])
	*b = (*b)[n:]
	return out
}

func (b *bytesReader) remaining() int {
	return len(*b)
}
