package password

import (
	"errors"
	"strings"
	"testing"
)

func fastConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newHasher(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	h, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	hasher := newHasher(t, fastConfig())

	hash, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("P@ssw0rd-Ascii", hash)
	if err != nil || !ok {
		t.Fatalf("expected verification to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = hasher.Verify("wrong-password", hash)
	if err != nil || ok {
		t.Fatalf("expected wrong password to fail, ok=%v err=%v", ok, err)
	}
}

func TestVerifyAcceptsPaddedEncoding(t *testing.T) {
	hasher := newHasher(t, fastConfig())
	hash, err := hasher.Hash("padded-salt-test")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	// 16 byte salt and 32 byte key need padding in standard base64.
	parts := strings.Split(hash, "$")
	parts[4] += "=="
	parts[5] += "="
	ok, err := hasher.Verify("padded-salt-test", strings.Join(parts, "$"))
	if err != nil || !ok {
		t.Fatalf("expected padded hash to verify, ok=%v err=%v", ok, err)
	}
}

func TestNeedsUpgrade(t *testing.T) {
	weak := newHasher(t, fastConfig())
	hash, err := weak.Hash("test-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	stronger := fastConfig()
	stronger.Time = 2
	up, err := newHasher(t, stronger).NeedsUpgrade(hash)
	if err != nil || !up {
		t.Fatalf("expected upgrade for weaker hash, up=%v err=%v", up, err)
	}

	up, err = weak.NeedsUpgrade(hash)
	if err != nil || up {
		t.Fatalf("expected no upgrade for current parameters, up=%v err=%v", up, err)
	}
}

func TestVerifyMalformedHashes(t *testing.T) {
	hasher := newHasher(t, fastConfig())
	good, err := hasher.Hash("malformed-test")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	cases := map[string]string{
		"not phc":       "not-a-phc-hash",
		"wrong version": strings.Replace(good, "$v=19$", "$v=18$", 1),
		"wrong alg":     strings.Replace(good, "$argon2id$", "$argon2i$", 1),
		"low memory":    strings.Replace(good, "m=8192", "m=1024", 1),
		"extra param":   strings.Replace(good, "p=1", "p=1,x=2", 1),
		"missing param": strings.Replace(good, ",p=1", "", 1),
	}
	for name, hash := range cases {
		if _, err := hasher.Verify("malformed-test", hash); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("%s: expected ErrInvalidHash, got %v", name, err)
		}
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	hasher := newHasher(t, fastConfig())
	for _, pwd := range []string{"", "short"} {
		if _, err := hasher.Hash(pwd); !errors.Is(err, ErrPasswordTooShort) {
			t.Fatalf("expected ErrPasswordTooShort for %q, got %v", pwd, err)
		}
	}
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	cfg := fastConfig()
	cfg.SaltLength = 8
	if _, err := NewArgon2(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestVerifyDummyDoesNotPanic(t *testing.T) {
	hasher := newHasher(t, fastConfig())
	hasher.VerifyDummy("anything")
}
