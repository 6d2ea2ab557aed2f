package x86

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// EncodeJump writes JMP rel32 into buf, assuming buf will live at from.
func EncodeJump(mode Mode, buf []byte, from, to uintptr) error {
	return encodeNear(mode, opJmpRel32, buf, from, to)
}

// EncodeCall writes CALL rel32 into buf, assuming buf will live at from.
func EncodeCall(mode Mode, buf []byte, from, to uintptr) error {
	return encodeNear(mode, opCallRel32, buf, from, to)
}

func encodeNear(mode Mode, op byte, buf []byte, from, to uintptr) error {
	if len(buf) < NearBranchLen {
		return errors.Newf("need %d bytes for a near branch, have %d", NearBranchLen, len(buf))
	}
	rel, err := Rel32(mode, from+NearBranchLen, to)
	if err != nil {
		return err
	}
	buf[0] = op
	binary.LittleEndian.PutUint32(buf[1:], uint32(rel))
	return nil
}
