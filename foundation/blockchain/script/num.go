package script

// maxNumSize is the largest operand, in bytes, numeric opcodes accept.
// Results may be larger and still be pushed.
const maxNumSize = 4

// scriptNum is a number taken from or pushed onto the stack. On the stack
// numbers are little endian sign-magnitude with the sign in the high bit of
// the last byte.
type scriptNum int64

// makeScriptNum interprets a stack element as a number. Elements longer than
// maxLen are rejected.
func makeScriptNum(v []byte, maxLen int) (scriptNum, error) {
	if len(v) > maxLen {
		return 0, scriptError(ErrNumberTooBig, "numeric value encoded as %x is %d bytes which exceeds the max allowed of %d", v, len(v), maxLen)
	}

	if len(v) == 0 {
		return 0, nil
	}

	var result int64
	for i, b := range v {
		result |= int64(b) << uint8(8*i)
	}

	if v[len(v)-1]&0x80 != 0 {
		result &= ^(int64(0x80) << uint8(8*(len(v)-1)))
		return scriptNum(-result), nil
	}

	return scriptNum(result), nil
}

// Bytes returns the minimal encoding of the number.
func (n scriptNum) Bytes() []byte {
	if n == 0 {
		return nil
	}

	isNegative := n < 0
	if isNegative {
		n = -n
	}

	result := make([]byte, 0, 9)
	for n > 0 {
		result = append(result, byte(n&0xff))
		n >>= 8
	}

	// The high bit of the last byte holds the sign, so a magnitude that
	// already uses it needs an extra byte.
	if result[len(result)-1]&0x80 != 0 {
		extraByte := byte(0x00)
		if isNegative {
			extraByte = 0x80
		}
		result = append(result, extraByte)
	} else if isNegative {
		result[len(result)-1] |= 0x80
	}

	return result
}

// Int32 returns the number clamped to the int32 range.
func (n scriptNum) Int32() int32 {
	const (
		maxInt32 = 1<<31 - 1
		minInt32 = -1 << 31
	)

	switch {
	case n > maxInt32:
		return maxInt32
	case n < minInt32:
		return minInt32
	}

	return int32(n)
}

// asBool interprets a stack element as a boolean. Any encoding of zero,
// including negative zero, is false.
func asBool(t []byte) bool {
	for i := range t {
		if t[i] != 0 {
			if i == len(t)-1 && t[i] == 0x80 {
				return false
			}
			return true
		}
	}
	return false
}

func fromBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return nil
}
