package blobstorage

import "hash/crc32"

// Checksum returns the CRC32 (IEEE) of data as stored in BlobMetadata.Checksum.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// verifyChecksum reports whether data matches the recorded checksum. A zero
// checksum marks records written before checksums were computed and always
// verifies.
func verifyChecksum(m *BlobMetadata, data []byte) bool {
	if m.Checksum == 0 {
		return true
	}
	return Checksum(data) == m.Checksum
}
