package wire

const shortFormLimit = 0x7F

// encodeLength appends the BER length octets for n to dst.
func encodeLength(dst []byte, n int) []byte {
	if n <= shortFormLimit {
		return append(dst, byte(n))
	}

	var buf [8]byte
	i := len(buf)
	v := uint64(n)
	for v > 0 {
		i--
		buf[i] = byte(v)
		v >>= 8
	}
	count := len(buf) - i
	dst = append(dst, 0x80|byte(count))
	return append(dst, buf[i:]...)
}

// decodeLength parses a length field starting at src[0] and returns the
// length, the number of bytes consumed by the length field itself.
func decodeLength(src []byte) (int, int, error) {
	if len(src) == 0 {
		return 0, 0, ErrTruncated
	}
	lead := src[0]
	if lead&0x80 == 0 {
		return int(lead), 1, nil
	}

	count := int(lead & 0x7F)
	if count == 0 {
		return 0, 0, ErrIndefiniteLength
	}
	if len(src) < 1+count {
		return 0, 0, ErrTruncated
	}

	n := 0
	for i := 0; i < count; i++ {
		n = (n << 8) | int(src[1+i])
	}
	return n, 1 + count, nil
}
