package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasherRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		algorithm string
		cost      int
		prefix    string
	}{
		{AlgorithmBcrypt, bcrypt.MinCost, "$2"},
		{AlgorithmArgon2id, 1, "$argon2id$"},
	} {
		t.Run(tc.algorithm, func(t *testing.T) {
			h, err := NewPasswordHasher(tc.algorithm, tc.cost)
			if err != nil {
				t.Fatalf("NewPasswordHasher: %v", err)
			}
			first, err := h.Hash("pw1")
			if err != nil {
				t.Fatalf("Hash: %v", err)
			}
			second, err := h.Hash("pw1")
			if err != nil {
				t.Fatalf("Hash: %v", err)
			}
			if first == second {
				t.Fatalf("expected salted hashes to differ")
			}
			if !strings.HasPrefix(first, tc.prefix) {
				t.Fatalf("unexpected encoding %q", first)
			}
			if !h.Verify("pw1", first) || !h.Verify("pw1", second) {
				t.Fatalf("expected secret to verify")
			}
			if h.Verify("pw2", first) {
				t.Fatalf("expected wrong secret to fail")
			}
		})
	}
}

func TestPasswordHasherVerifiesOtherAlgorithm(t *testing.T) {
	argon, _ := NewPasswordHasher(AlgorithmArgon2id, 1)
	bc, _ := NewPasswordHasher(AlgorithmBcrypt, bcrypt.MinCost)

	encoded, err := argon.Hash("secret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !bc.Verify("secret", encoded) {
		t.Fatalf("expected bcrypt hasher to verify argon2id encoding")
	}
}

func TestPasswordHasherRejectsBadInput(t *testing.T) {
	h, _ := NewPasswordHasher(AlgorithmBcrypt, bcrypt.MinCost)

	if _, err := h.Hash(""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty secret, got %v", err)
	}
	if _, err := h.Hash(strings.Repeat("x", 73)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for long secret, got %v", err)
	}
	for _, encoded := range []string{"", "plain", "$argon2id$v=19$m=1,t=1,p=1$!!$!!", "$argon2id$v=19$m=999999999,t=1,p=1$c2FsdA$a2V5"} {
		if h.Verify("x", encoded) {
			t.Fatalf("expected %q to fail verification", encoded)
		}
	}
	if _, err := NewPasswordHasher("md5", 0); err == nil {
		t.Fatalf("expected unsupported algorithm to fail")
	}
	if _, err := NewPasswordHasher(AlgorithmBcrypt, 99); err == nil {
		t.Fatalf("expected out of range cost to fail")
	}
}

func TestHashPool(t *testing.T) {
	h, _ := NewPasswordHasher(AlgorithmBcrypt, bcrypt.MinCost)
	pool := NewHashPool(h, 2)
	ctx := context.Background()

	if !h.Verify(dummySecret, pool.dummy) {
		t.Fatalf("expected dummy hash to be ready before the first request, got %q", pool.dummy)
	}

	encoded, err := pool.Hash(ctx, "pw1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	ok, err := pool.Verify(ctx, "pw1", encoded)
	if err != nil || !ok {
		t.Fatalf("Verify: ok=%v err=%v", ok, err)
	}
	if err := pool.VerifyAbsent(ctx, "pw1"); err != nil {
		t.Fatalf("VerifyAbsent: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := pool.Hash(cancelled, "pw1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}

	pool.Close()
	pool.Close()
	if _, err := pool.Verify(ctx, "pw1", encoded); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestHashPoolDummyUsesLiveParameters(t *testing.T) {
	h, _ := NewPasswordHasher(AlgorithmArgon2id, 1)
	pool := NewHashPool(h, 1)
	t.Cleanup(pool.Close)

	if !strings.HasPrefix(pool.dummy, "$argon2id$") {
		t.Fatalf("expected argon2id dummy, got %q", pool.dummy)
	}
}
