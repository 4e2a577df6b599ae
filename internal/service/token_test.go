package service

import (
	"errors"
	"testing"
	"time"
)

func TestInspectToken(t *testing.T) {
	token := mintToken(t, "7", time.Hour)

	info, err := InspectToken(token)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.Subject != "7" {
		t.Fatalf("subject = %q, want 7", info.Subject)
	}
	if info.ExpiredAt(time.Now()) {
		t.Fatalf("fresh token reported expired")
	}
	if !info.ExpiredAt(time.Now().Add(2 * time.Hour)) {
		t.Fatalf("token not expired after its lifetime")
	}
}

func TestInspectTokenExpiredStillReadable(t *testing.T) {
	info, err := InspectToken(mintToken(t, "7", -time.Minute))
	if err != nil {
		t.Fatalf("an expired token must still be readable: %v", err)
	}
	if !info.ExpiredAt(time.Now()) {
		t.Fatalf("expired token reported fresh")
	}
}

func TestInspectTokenMalformed(t *testing.T) {
	for _, token := range []string{"", "T1", "a.b.c"} {
		if _, err := InspectToken(token); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("InspectToken(%q) = %v, want ErrTokenMalformed", token, err)
		}
	}
}
