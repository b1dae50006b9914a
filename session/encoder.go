package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/MrEthical07/trustgate/credential"
)

const (
	recordFormatVersionCurrent = 1

	// MaxSupersededHistory bounds the superseded hash list a record can carry.
	MaxSupersededHistory = 255
)

var errFieldTooLong = errors.New("field exceeds 255 bytes")

// Encode serializes r deterministically: equal records produce equal bytes,
// which is what compare-and-swap on the encoded value relies on.
func Encode(r *Record) ([]byte, error) {
	if r == nil {
		return nil, errors.New("nil record")
	}
	if len(r.Superseded) > MaxSupersededHistory {
		return nil, fmt.Errorf("superseded history too long: %d", len(r.Superseded))
	}

	var buf bytes.Buffer
	buf.Grow(96 + len(r.Series) + len(r.SessionID) + len(r.AccountID) + 32*len(r.Superseded))

	buf.WriteByte(recordFormatVersionCurrent)

	for _, s := range []string{string(r.Series), string(r.SessionID), r.AccountID} {
		if len(s) > 255 {
			return nil, errFieldTooLong
		}
		buf.WriteByte(byte(len(s)))
		buf.WriteString(s)
	}

	for _, v := range []int64{r.CreatedAt, r.SessionExpiresAt, r.AbsoluteExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	buf.Write(r.RefreshHash[:])

	for _, v := range []int64{r.RefreshExpiresAt, r.RotatedAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(&buf, binary.BigEndian, r.Revision); err != nil {
		return nil, err
	}

	buf.WriteByte(byte(len(r.Superseded)))
	for _, h := range r.Superseded {
		buf.Write(h[:])
	}

	return buf.Bytes(), nil
}

// Decode parses data produced by Encode. Any malformed input returns ErrCorrupt.
func Decode(data []byte) (*Record, error) {
	r, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return r, nil
}

func decode(data []byte) (*Record, error) {
	buf := bytes.NewReader(data)

	version, err := buf.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordFormatVersionCurrent {
		return nil, fmt.Errorf("unsupported record version %d", version)
	}

	var fields [3]string
	for i := range fields {
		n, err := buf.ReadByte()
		if err != nil {
			return nil, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(buf, b); err != nil {
			return nil, err
		}
		fields[i] = string(b)
	}

	r := &Record{
		Series:    credential.Series(fields[0]),
		SessionID: credential.SessionID(fields[1]),
		AccountID: fields[2],
	}

	for _, dst := range []*int64{&r.CreatedAt, &r.SessionExpiresAt, &r.AbsoluteExpiresAt} {
		if err := binary.Read(buf, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}
	if _, err := io.ReadFull(buf, r.RefreshHash[:]); err != nil {
		return nil, err
	}
	for _, dst := range []*int64{&r.RefreshExpiresAt, &r.RotatedAt} {
		if err := binary.Read(buf, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}
	if err := binary.Read(buf, binary.BigEndian, &r.Revision); err != nil {
		return nil, err
	}

	count, err := buf.ReadByte()
	if err != nil {
		return nil, err
	}
	if count > 0 {
		r.Superseded = make([]credential.Digest, count)
		for i := range r.Superseded {
			if _, err := io.ReadFull(buf, r.Superseded[i][:]); err != nil {
				return nil, err
			}
		}
	}

	if buf.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", buf.Len())
	}

	return r, nil
}
