package infrastructure

import "encoding/binary"

// Mask XORs buf in place with key, byte i with key[i%4]. Applying it twice
// with the same key restores buf, so it both masks and unmasks.
func Mask(key [4]byte, buf []byte) {
	i := 0
	if len(buf) >= 8 {
		k := uint64(binary.LittleEndian.Uint32(key[:]))
		k |= k << 32
		for ; i+8 <= len(buf); i += 8 {
			v := binary.LittleEndian.Uint64(buf[i:])
			binary.LittleEndian.PutUint64(buf[i:], v^k)
		}
	}
	// i is a multiple of 8, so the key stays aligned with the tail
	for ; i < len(buf); i++ {
		buf[i] ^= key[i%4]
	}
}
