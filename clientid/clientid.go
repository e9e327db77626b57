package clientid

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/howeyc/crc16"
)

// ClientID correlates a locally-submitted order with its eventual indexed
// counterpart. It is assigned before the backend has accepted the order and
// must be unique within the session.
type ClientID struct {
	Session  uint32
	Sequence uint32
}

func (id ClientID) String() string {
	return id.Hex()
}

func (id ClientID) Hex() string {
	return "0x" + hex.EncodeToString(id.AsHex())
}

// IsZero reports whether the id is unassigned.
func (id ClientID) IsZero() bool {
	return id == ClientID{}
}

// AsHex returns a 10 byte representation of the client id.
// All components are BigEndian encoded as:
// 4 bytes for the Session uint32
// 4 bytes for the Sequence uint32
// 2 bytes for a CRC16 of the preceding bytes
func (id ClientID) AsHex() []byte {
	out := make([]byte, 0, 10)

	out = binary.BigEndian.AppendUint32(out, id.Session)
	out = binary.BigEndian.AppendUint32(out, id.Sequence)
	out = binary.BigEndian.AppendUint16(out, crc16.Checksum(out, crc16.IBMTable))

	return out
}

var ErrHexTooShort = fmt.Errorf("hex data too short")
var ErrIncorrectChecksum = fmt.Errorf("checksum does not match")

// FromHex returns a ClientID from the provided bytes. If the CRC16 checksum
// does not pass an error is returned.
func FromHex(v []byte) (ClientID, error) {
	if len(v) != 10 {
		return ClientID{}, ErrHexTooShort
	}

	if crc16.Checksum(v[0:8], crc16.IBMTable) != binary.BigEndian.Uint16(v[8:10]) {
		return ClientID{}, ErrIncorrectChecksum
	}

	return ClientID{
		Session:  binary.BigEndian.Uint32(v[0:4]),
		Sequence: binary.BigEndian.Uint32(v[4:8]),
	}, nil
}

// FromHexString strips off a prepending 0x if present.
func FromHexString(s string) (ClientID, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, " ", "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return ClientID{}, fmt.Errorf("could not decode: %s", err)
	}
	return FromHex(b)
}

// Generator hands out session-unique client ids. The session component is
// derived from a random UUID at construction so ids from a previous session
// never collide with the current one.
type Generator struct {
	session uint32
	seq     atomic.Uint32
}

func NewGenerator() *Generator {
	u := uuid.New()
	return &Generator{
		session: binary.BigEndian.Uint32(u[0:4]),
	}
}

// Next returns a fresh client id. Safe for concurrent use.
func (g *Generator) Next() ClientID {
	return ClientID{
		Session:  g.session,
		Sequence: g.seq.Add(1),
	}
}
