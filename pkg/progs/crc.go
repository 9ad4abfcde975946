package progs

// CRC16 parameters: CCITT polynomial, 0xffff initial value, no final xor.
const (
	crcInit = 0xffff
	crcPoly = 0x1021
)

var crcTable = func() [256]uint16 {
	var t [256]uint16
	for i := range t {
		c := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if c&0x8000 != 0 {
				c = c<<1 ^ crcPoly
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

// CRC16 returns the CRC16-CCITT checksum of data. Hosts compare it against
// the checksum of their compiled-in field layout.
func CRC16(data []byte) uint16 {
	crc := uint16(crcInit)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}
