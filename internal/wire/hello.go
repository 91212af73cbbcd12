package wire

import "github.com/harborlight/roomkeeper/internal/codec"

// ProtocolVersion is the only handshake version this server accepts.
// A Hello carrying anything else is refused at the transport's OnHello
// step (spec.md §4.2).
const ProtocolVersion uint32 = 6

// Hello is the connect handshake payload carried by a PacketHello
// datagram: protocol version, display name, and the language/platform
// pair clients advertise for cosmetic/telemetry purposes only.
type Hello struct {
	ProtocolVersion uint32
	Name            string
	Language        uint32
	Platform        byte
}

// EncodeHello encodes a Hello payload.
func EncodeHello(m Hello) []byte {
	w := codec.NewWriter(16 + len(m.Name))
	w.PackedUint32(m.ProtocolVersion)
	w.WriteString(m.Name)
	w.PackedUint32(m.Language)
	w.Byte(m.Platform)
	return w.Bytes()
}

// DecodeHello decodes a Hello payload.
func DecodeHello(payload []byte) (Hello, error) {
	r := codec.NewReader(payload)
	version, err := r.PackedUint32()
	if err != nil {
		return Hello{}, err
	}
	name, err := r.String()
	if err != nil {
		return Hello{}, err
	}
	lang, err := r.PackedUint32()
	if err != nil {
		return Hello{}, err
	}
	platform, err := r.Byte()
	if err != nil {
		return Hello{}, err
	}
	return Hello{ProtocolVersion: version, Name: name, Language: lang, Platform: platform}, nil
}
