package secret

import (
	"strings"
	"testing"
)

// FuzzValidate feeds arbitrary credentials through Validate and Hash.
// Invalid input must fail cleanly; accepted input must carry the prefix.
func FuzzValidate(f *testing.F) {
	f.Add("")
	f.Add("rt_")
	f.Add("rt_abc")
	f.Add("rt_" + strings.Repeat("A", 43))
	f.Add("ak_!!!not-base64!!!")
	f.Add("rt_aGVsbG8=")
	f.Add("del_" + strings.Repeat("x", MaxEncodedLength))

	if token, err := New("rt_", DefaultSize); err == nil {
		f.Add(token)
	}

	f.Fuzz(func(t *testing.T, input string) {
		if err := Validate("rt_", input); err != nil {
			return
		}
		if !strings.HasPrefix(input, "rt_") || len(input) > MaxEncodedLength {
			t.Fatalf("Validate accepted %q", input)
		}
		if got := Hash(input); len(got) != 64 || got != Hash(input) {
			t.Fatalf("Hash not stable for %q: %s", input, got)
		}
	})
}
