package jwt

import (
	"strings"
	"testing"
	"time"
)

func FuzzParseStepUp(f *testing.F) {
	key := []byte(strings.Repeat("k", 32))
	mgr, err := NewManager(Config{
		TTL:           10 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    key,
		Issuer:        "neosign",
		RequireIAT:    true,
	})
	if err != nil {
		f.Fatal(err)
	}

	valid, err := mgr.CreateStepUp("uid1", "sid1", "aes_signature", time.Time{})
	if err != nil {
		f.Fatal(err)
	}
	for _, seed := range []string{
		valid,
		valid[:len(valid)-2],
		"",
		"a.b.c",
		"eyJhbGciOiJub25lIn0.eyJ1aWQiOiJ1Iiwic2lkIjoicyJ9.",
	} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := mgr.ParseStepUp(input)
		if err == nil && (claims.SID == "" || claims.UID == "") {
			t.Fatalf("accepted token without binding: %+v", claims)
		}
	})
}
