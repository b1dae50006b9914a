package session

import (
	"bytes"
	"testing"

	"github.com/MrEthical07/trustgate/credential"
)

// FuzzRecordDecode feeds arbitrary bytes to Decode. It must never panic and
// anything it accepts must re-encode to the same bytes.
func FuzzRecordDecode(f *testing.F) {
	rec := &Record{
		Series:            "7a9c2c1e-8a6b-4d4f-9f61-0d3f2e0a1b2c",
		SessionID:         "01HZY3D4W8Q5K6M7N8P9R0S1T2",
		AccountID:         "acct-fuzz",
		CreatedAt:         1700000000000,
		SessionExpiresAt:  1700001800000,
		AbsoluteExpiresAt: 1700086400000,
		RefreshHash:       credential.Digest{1},
		RefreshExpiresAt:  1700604800000,
		RotatedAt:         1700000000000,
		Revision:          3,
		Superseded:        []credential.Digest{{2}, {3}},
	}
	encoded, err := Encode(rec)
	if err == nil {
		f.Add(encoded)
		f.Add(encoded[:10])
		f.Add(encoded[:len(encoded)-1])
	}

	f.Add([]byte{})
	f.Add([]byte{0})
	f.Add([]byte{recordFormatVersionCurrent})
	f.Add([]byte{255, 255, 255})

	f.Fuzz(func(t *testing.T, data []byte) {
		r, err := Decode(data)
		if err != nil {
			return
		}
		again, err := Encode(r)
		if err != nil {
			t.Fatalf("decoded record does not re-encode: %v", err)
		}
		if !bytes.Equal(again, data) {
			t.Fatalf("encoding is not canonical")
		}
	})
}
