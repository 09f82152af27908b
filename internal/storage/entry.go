package storage

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"gossipkv/internal/replication"
)

var (
	entryEnc cbor.EncMode
	entryDec cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("storage: cbor encoder: %v", err))
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("storage: cbor decoder: %v", err))
	}
	entryEnc, entryDec = em, dm
}

// Entry is what a replica keeps for one key: the client value plus the
// tick it was written and the replica role of this copy.
type Entry struct {
	Value     string           `cbor:"1,keyasint"`
	Timestamp int64            `cbor:"2,keyasint"`
	Role      replication.Role `cbor:"3,keyasint"`
}

// EncodeEntry serializes e for the storage primitive.
func EncodeEntry(e Entry) (string, error) {
	b, err := entryEnc.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode entry: %w", err)
	}
	return string(b), nil
}

// DecodeEntry parses a value written by EncodeEntry.
func DecodeEntry(raw string) (Entry, error) {
	var e Entry
	if err := entryDec.Unmarshal([]byte(raw), &e); err != nil {
		return Entry{}, fmt.Errorf("failed to decode entry: %w", err)
	}
	return e, nil
}
