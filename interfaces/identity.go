package interfaces

import (
	"bytes"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
)

const (
	// MaxIdentityLength is the maximum length of a raw identity in bytes.
	MaxIdentityLength = 29

	anonymousIdentityTag    = 0x04
	selfAuthenticatingTag   = 0x02
	identityTextGroupLength = 5
)

var (
	// ErrInvalidIdentity is returned when an identity cannot be decoded from bytes or text.
	ErrInvalidIdentity = errors.New("invalid identity")

	identityEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)
)

// Identity is an opaque caller identifier. It is comparable, usable as a map
// key and totally ordered by its raw bytes.
type Identity struct {
	raw string
}

// AnonymousIdentity is the identity resolved for unauthenticated callers.
var AnonymousIdentity = Identity{raw: string([]byte{anonymousIdentityTag})}

// NewIdentityFromBytes creates an identity from its raw byte representation.
func NewIdentityFromBytes(b []byte) (Identity, error) {
	if len(b) > MaxIdentityLength {
		return Identity{}, fmt.Errorf("%w: length %d exceeds %d bytes", ErrInvalidIdentity, len(b), MaxIdentityLength)
	}
	return Identity{raw: string(b)}, nil
}

// SelfAuthenticatingIdentity derives the identity bound to a public key.
// The result is sha224(pubkey) followed by the self-authenticating tag byte.
func SelfAuthenticatingIdentity(pubkey []byte) Identity {
	digest := sha256.Sum224(pubkey)
	raw := make([]byte, 0, len(digest)+1)
	raw = append(raw, digest[:]...)
	raw = append(raw, selfAuthenticatingTag)
	return Identity{raw: string(raw)}
}

// ParseIdentity decodes the textual form produced by Identity.String.
// The checksum is verified and only the canonical lower-case grouped form is accepted.
func ParseIdentity(text string) (Identity, error) {
	compact := strings.ToUpper(strings.ReplaceAll(text, "-", ""))
	decoded, err := identityEncoding.DecodeString(compact)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	if len(decoded) < crc32.Size {
		return Identity{}, fmt.Errorf("%w: text too short", ErrInvalidIdentity)
	}

	checksum := binary.BigEndian.Uint32(decoded[:crc32.Size])
	identity, err := NewIdentityFromBytes(decoded[crc32.Size:])
	if err != nil {
		return Identity{}, err
	}

	if checksum != crc32.ChecksumIEEE(identity.Bytes()) {
		return Identity{}, fmt.Errorf("%w: checksum mismatch", ErrInvalidIdentity)
	}

	if identity.String() != text {
		return Identity{}, fmt.Errorf("%w: %q is not in canonical form", ErrInvalidIdentity, text)
	}

	return identity, nil
}

// Bytes returns a copy of the raw identity bytes.
func (id Identity) Bytes() []byte {
	return []byte(id.raw)
}

// IsAnonymous reports whether this is the anonymous identity.
func (id Identity) IsAnonymous() bool {
	return id == AnonymousIdentity
}

// Compare orders identities by their raw bytes.
func (id Identity) Compare(other Identity) int {
	return bytes.Compare([]byte(id.raw), []byte(other.raw))
}

// String renders the identity as checksummed base32 text grouped by dashes,
// e.g. "2vxsx-fae" for the anonymous identity.
func (id Identity) String() string {
	raw := id.Bytes()
	buf := make([]byte, crc32.Size, crc32.Size+len(raw))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(raw))
	buf = append(buf, raw...)

	encoded := strings.ToLower(identityEncoding.EncodeToString(buf))

	var sb strings.Builder
	for i := 0; i < len(encoded); i += identityTextGroupLength {
		if i > 0 {
			sb.WriteByte('-')
		}
		end := min(i+identityTextGroupLength, len(encoded))
		sb.WriteString(encoded[i:end])
	}
	return sb.String()
}

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
