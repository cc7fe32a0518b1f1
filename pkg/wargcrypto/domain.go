package wargcrypto

// Domain separation prefixes, bit-exact per §4.1. Every signed or
// hashed object is prefixed by one of these before hashing/signing so
// that outputs of different object kinds live in disjoint pre-image
// spaces.
const (
	OperatorRecordSignatureDomain = "WARG-OPERATOR-RECORD-SIGNATURE-V0"
	PackageRecordSignatureDomain  = "WARG-PACKAGE-RECORD-SIGNATURE-V0"
	MapCheckpointSignatureDomain  = "WARG-MAP-CHECKPOINT-SIGNATURE-V0"

	OperatorLogIDDomain = "WARG-OPERATOR-LOG-ID-V0"
	PackageLogIDDomain  = "WARG-PACKAGE-LOG-ID-V0:"

	OperatorRecordIDDomain = "WARG-OPERATOR-LOG-RECORD-V0:"
	PackageRecordIDDomain  = "WARG-PACKAGE-LOG-RECORD-V0:"

	LogLeafDomain = "WARG-LOG-LEAF-V0"
	MapLeafDomain = "WARG-MAP-LEAF-V0"
)

// Merkle prefix bytes prepended before hashing empty leaves / internal
// branches, per §4.1.
const (
	MerkleEmptyLeafPrefix byte = 0x00
	MerkleBranchPrefix    byte = 0x01
)
