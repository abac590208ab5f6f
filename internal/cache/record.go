package cache

import "github.com/fxamacker/cbor/v2"

// op tags what a record does to the index, the same two-value enum as
// the teacher's OpPut/OpDelete in internal/database/record.go.
type op byte

const (
	opPut op = iota
	opDelete
)

// record is the plaintext payload sealed inside one Block on disk. A
// separate CRC field (kept by the teacher alongside its own cipher) is
// dropped here: the AEAD tag already authenticates this payload, and a
// second checksum over already-authenticated bytes catches nothing a
// failed Open wouldn't.
type record struct {
	Op         op     `cbor:"1,keyasint"`
	Collection string `cbor:"2,keyasint"`
	Key        string `cbor:"3,keyasint"`
	Value      []byte `cbor:"4,keyasint,omitempty"`
	Compressed bool   `cbor:"5,keyasint,omitempty"`
}

func (r *record) encode() ([]byte, error) {
	return cbor.Marshal(r)
}

func decodeRecord(data []byte) (*record, error) {
	var r record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
