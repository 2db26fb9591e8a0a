// Package hashtag maps keys to cluster slots: CRC16-XMODEM over the key's
// hash tag, modulo the fixed slot count.
package hashtag

import "strings"

// SlotCount is the fixed size of the cluster keyspace.
const SlotCount = 16384

// crc16tab is the CRC16-XMODEM lookup table (polynomial 0x1021, no
// reflection, zero initial value). crc16("123456789") == 0x31C3.
var crc16tab = func() [256]uint16 {
	var tab [256]uint16
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		tab[i] = crc
	}
	return tab
}()

// Crc16 computes the CRC16-XMODEM checksum of data.
func Crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = crc<<8 ^ crc16tab[byte(crc>>8)^b]
	}
	return crc
}

// Key returns the portion of key that is hashed: the bytes between the
// first '{' and the next '}' when that span is non-empty, otherwise the
// whole key. This lets callers pin related keys ("user:{42}:name",
// "user:{42}:email") to one slot.
func Key(key string) string {
	if open := strings.IndexByte(key, '{'); open >= 0 {
		if end := strings.IndexByte(key[open+1:], '}'); end > 0 {
			return key[open+1 : open+1+end]
		}
	}
	return key
}

// Slot returns the cluster slot for key.
func Slot(key string) int {
	return int(Crc16([]byte(Key(key)))) % SlotCount
}
