package session

import (
	"testing"
)

// FuzzRecordDecode exercises the binary record decoder with arbitrary inputs.
// Goal: no panics; anything that decodes re-encodes to the same bytes.
func FuzzRecordDecode(f *testing.F) {
	rec := &Record{
		SessionID:         "6f1c2a1e-3c1b-4d0e-9a51-0c7b8f0f7e11",
		UserID:            "user1",
		DeviceFingerprint: "v1:abc",
		UserAgent:         "Mozilla/5.0",
		IP:                "203.0.113.7",
		CreatedAt:         1700000000000,
		LastActivity:      1700000005000,
		Active:            true,
	}
	encoded, err := Encode(rec)
	if err == nil {
		f.Add(encoded)
		if len(encoded) > 10 {
			f.Add(encoded[:10])
		}
		f.Add(append(append([]byte{}, encoded...), 0))
	}

	f.Add([]byte{})
	f.Add([]byte{0})
	f.Add([]byte{1})
	f.Add([]byte{255, 255, 255})

	f.Fuzz(func(t *testing.T, data []byte) {
		r, err := Decode(data)
		if err != nil {
			return
		}
		if r == nil {
			t.Fatal("Decode returned nil record without error")
		}
		out, err := Encode(r)
		if err != nil {
			t.Fatalf("re-encode decoded record: %v", err)
		}
		if string(out) != string(data) {
			t.Fatalf("round trip mismatch")
		}
	})
}

func TestEncodeRejectsOversizedFields(t *testing.T) {
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := Encode(&Record{UserID: string(long)}); err == nil {
		t.Fatal("expected oversized user id to be rejected")
	}
}
