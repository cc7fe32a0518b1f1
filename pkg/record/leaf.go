package record

import (
	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/wargcrypto"
)

// LogLeaf is the value stored at an append-only log's leaf position: the
// log it belongs to plus the id of the record appended there. Binding
// LogId into the leaf's encoded bytes stops a record accepted on one log
// from being replayed as if it were inclusion-proven on another (spec
// §4.3).
type LogLeaf struct {
	LogID    digest.Digest
	RecordID digest.Digest
}

// Encode returns the domain-separated bytes the Merkle tree hashes to
// produce this leaf's node hash (pkg/merklelog applies its own 0x00
// leaf-vs-branch prefix on top of this).
func (l LogLeaf) Encode() []byte {
	data := make([]byte, 0, len(wargcrypto.LogLeafDomain)+len(l.LogID.Bytes)+len(l.RecordID.Bytes))
	data = append(data, wargcrypto.LogLeafDomain...)
	data = append(data, l.LogID.Bytes...)
	data = append(data, l.RecordID.Bytes...)
	return data
}

// MapLeaf is the value stored at a package log's position in the
// verifiable map: the id of that log's latest record at checkpoint time.
type MapLeaf struct {
	RecordID digest.Digest
}

// Encode returns the domain-separated bytes the sparse map hashes to
// produce this leaf's node hash.
func (l MapLeaf) Encode() []byte {
	data := make([]byte, 0, len(wargcrypto.MapLeafDomain)+len(l.RecordID.Bytes))
	data = append(data, wargcrypto.MapLeafDomain...)
	data = append(data, l.RecordID.Bytes...)
	return data
}
