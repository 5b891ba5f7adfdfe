package frame

// CRC-7/5B trailer for non-secure frames. 7-bit CRC, polynomial 0x37,
// processed MSB first. The result is folded so that 0x00 never appears
// on the wire: a zero CRC is transmitted as 0x80.

// CRCInitial is the nonzero seed fed into the first CRC7_5BUpdate call.
const CRCInitial byte = 0x7f

// crcZeroSubstitute replaces a computed CRC of zero on the wire, since
// 0x00 is reserved to mark an invalid or erased frame trailer.
const crcZeroSubstitute byte = 0x80

// CRC7_5BUpdate folds one byte into a running 7-bit CRC.
func CRC7_5BUpdate(crc, b byte) byte {
	for i := 0; i < 8; i++ {
		feedback := ((crc >> 6) ^ (b >> (7 - i))) & 1
		crc = (crc << 1) & 0x7f
		if feedback != 0 {
			crc ^= 0x37
		}
	}
	return crc
}

// ComputeCRC computes the non-secure trailer byte over buf[0:fl], i.e.
// the whole frame excluding the trailer itself. A result of 0x00 is
// substituted with 0x80 so the trailer byte is never zero on the wire.
func ComputeCRC(buf []byte, fl int) byte {
	crc := CRCInitial
	for _, b := range buf[:fl] {
		crc = CRC7_5BUpdate(crc, b)
	}
	if crc == 0 {
		return crcZeroSubstitute
	}
	return crc
}
