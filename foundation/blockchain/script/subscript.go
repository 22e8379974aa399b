package script

import "bytes"

// Subscript returns the script a signature commits to. Every code
// separator is removed along with every push whose data exactly matches
// one of the signatures. Remaining instructions keep their original
// encoding. Empty signatures never match.
func Subscript(script []byte, sigs [][]byte) ([]byte, error) {
	result := make([]byte, 0, len(script))

	t := newTokenizer(script)
	for t.Next() {
		if t.op.value == OP_CODESEPARATOR {
			continue
		}

		if t.op.isPush() && matchesAny(t.data, sigs) {
			continue
		}

		result = append(result, t.Raw()...)
	}

	if err := t.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func matchesAny(data []byte, sigs [][]byte) bool {
	if len(data) == 0 {
		return false
	}

	for _, sig := range sigs {
		if bytes.Equal(data, sig) {
			return true
		}
	}

	return false
}
