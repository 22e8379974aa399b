package script

import "bytes"

// stack holds the byte array elements a script operates on. Index 0 of the
// helper methods is the top of the stack.
type stack struct {
	stk [][]byte
}

// Depth returns the number of items on the stack.
func (s *stack) Depth() int {
	return len(s.stk)
}

// PushByteArray adds a copy of the element to the top of the stack.
func (s *stack) PushByteArray(so []byte) {
	s.stk = append(s.stk, bytes.Clone(so))
}

// PushInt pushes the minimal encoding of the number.
func (s *stack) PushInt(val scriptNum) {
	s.stk = append(s.stk, val.Bytes())
}

// PushBool pushes 1 for true and an empty element for false.
func (s *stack) PushBool(val bool) {
	s.stk = append(s.stk, fromBool(val))
}

// PopByteArray removes and returns the top element.
func (s *stack) PopByteArray() ([]byte, error) {
	return s.nipN(0)
}

// PopInt removes the top element and interprets it as a number.
func (s *stack) PopInt() (scriptNum, error) {
	so, err := s.PopByteArray()
	if err != nil {
		return 0, err
	}

	return makeScriptNum(so, maxNumSize)
}

// PopBool removes the top element and interprets it as a boolean.
func (s *stack) PopBool() (bool, error) {
	so, err := s.PopByteArray()
	if err != nil {
		return false, err
	}

	return asBool(so), nil
}

// PeekByteArray returns the element idx from the top without removing it.
func (s *stack) PeekByteArray(idx int) ([]byte, error) {
	sz := len(s.stk)
	if idx < 0 || idx >= sz {
		return nil, scriptError(ErrInvalidStackOperation, "index %d is invalid for stack size %d", idx, sz)
	}

	return s.stk[sz-idx-1], nil
}

// PeekBool returns the element idx from the top as a boolean.
func (s *stack) PeekBool(idx int) (bool, error) {
	so, err := s.PeekByteArray(idx)
	if err != nil {
		return false, err
	}

	return asBool(so), nil
}

// nipN removes and returns the element idx from the top.
func (s *stack) nipN(idx int) ([]byte, error) {
	sz := len(s.stk)
	if idx < 0 || idx > sz-1 {
		return nil, scriptError(ErrInvalidStackOperation, "index %d is invalid for stack size %d", idx, sz)
	}

	so := s.stk[sz-idx-1]
	switch idx {
	case 0:
		s.stk = s.stk[:sz-1]
	default:
		s.stk = append(s.stk[:sz-idx-1], s.stk[sz-idx:]...)
	}

	return so, nil
}

// NipN removes the element idx from the top.
func (s *stack) NipN(idx int) error {
	_, err := s.nipN(idx)
	return err
}

// Tuck copies the top element below the second one.
//
//	[... x1 x2] -> [... x2 x1 x2]
func (s *stack) Tuck() error {
	so2, err := s.PopByteArray()
	if err != nil {
		return err
	}

	so1, err := s.PopByteArray()
	if err != nil {
		return err
	}

	s.PushByteArray(so2)
	s.PushByteArray(so1)
	s.PushByteArray(so2)

	return nil
}

// DropN removes the top n elements.
func (s *stack) DropN(n int) error {
	if n < 1 {
		return scriptError(ErrInvalidStackOperation, "attempt to drop %d items from stack", n)
	}

	for ; n > 0; n-- {
		if _, err := s.PopByteArray(); err != nil {
			return err
		}
	}

	return nil
}

// DupN duplicates the top n elements.
//
//	DupN(2): [... x1 x2] -> [... x1 x2 x1 x2]
func (s *stack) DupN(n int) error {
	if n < 1 {
		return scriptError(ErrInvalidStackOperation, "attempt to dup %d stack items", n)
	}

	for i := n; i > 0; i-- {
		so, err := s.PeekByteArray(n - 1)
		if err != nil {
			return err
		}
		s.PushByteArray(so)
	}

	return nil
}

// RotN rotates the top 3n elements to the left by n.
//
//	RotN(1): [... x1 x2 x3] -> [... x2 x3 x1]
func (s *stack) RotN(n int) error {
	if n < 1 {
		return scriptError(ErrInvalidStackOperation, "attempt to rotate %d stack items", n)
	}

	entry := 3*n - 1
	for i := n; i > 0; i-- {
		so, err := s.nipN(entry)
		if err != nil {
			return err
		}
		s.PushByteArray(so)
	}

	return nil
}

// SwapN swaps the top n elements with the n below them.
//
//	SwapN(1): [... x1 x2] -> [... x2 x1]
func (s *stack) SwapN(n int) error {
	if n < 1 {
		return scriptError(ErrInvalidStackOperation, "attempt to swap %d stack items", n)
	}

	entry := 2*n - 1
	for i := n; i > 0; i-- {
		so, err := s.nipN(entry)
		if err != nil {
			return err
		}
		s.PushByteArray(so)
	}

	return nil
}

// OverN copies the n elements below the top n to the top.
//
//	OverN(1): [... x1 x2] -> [... x1 x2 x1]
func (s *stack) OverN(n int) error {
	if n < 1 {
		return scriptError(ErrInvalidStackOperation, "attempt to perform over on %d stack items", n)
	}

	entry := 2*n - 1
	for ; n > 0; n-- {
		so, err := s.PeekByteArray(entry)
		if err != nil {
			return err
		}
		s.PushByteArray(so)
	}

	return nil
}

// PickN copies the element n from the top to the top.
func (s *stack) PickN(n int) error {
	so, err := s.PeekByteArray(n)
	if err != nil {
		return err
	}

	s.PushByteArray(so)
	return nil
}

// RollN moves the element n from the top to the top.
func (s *stack) RollN(n int) error {
	so, err := s.nipN(n)
	if err != nil {
		return err
	}

	s.PushByteArray(so)
	return nil
}
