package compress

import "bytes"

// DefaultThreshold is the payload size below which Pack stores data as is.
// Short JSON rarely shrinks enough to pay for the frame header.
const DefaultThreshold = 512

// zstdMagic starts every ZSTD frame (RFC 8878).
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Pack returns data ZSTD-compressed when it is at least threshold bytes,
// otherwise data unchanged. A threshold <= 0 always compresses.
func Pack(data []byte, threshold int) ([]byte, error) {
	if threshold > 0 && len(data) < threshold {
		return data, nil
	}
	return DefaultZSTD.Compress(data)
}

// Unpack reverses Pack. Data without a ZSTD frame header is returned as is,
// so blobs written before compression was enabled still read back.
func Unpack(data []byte) ([]byte, error) {
	if !IsCompressed(data) {
		return data, nil
	}
	return DefaultZSTD.Decompress(data)
}

// IsCompressed reports whether data starts with a ZSTD frame header.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}
