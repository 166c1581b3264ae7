// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package claims

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mydia-project/mydia/lib/clock"
	"github.com/mydia-project/mydia/lib/codec"
)

func fakeClock() *clock.FakeClock {
	return clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func testDescriptor(t *testing.T) []byte {
	t.Helper()
	data, err := codec.Marshal(map[string]any{
		"public_key":   make([]byte, 32),
		"direct_addrs": []string{"192.168.1.10:7946"},
		"relay_url":    "https://relay.example.com",
	})
	if err != nil {
		t.Fatalf("marshaling descriptor: %v", err)
	}
	return data
}

func newTestBroker(t *testing.T, fc *clock.FakeClock) *Broker {
	t.Helper()
	b, err := New(Config{Clock: fc})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestCreateAndGetClaim(t *testing.T) {
	fc := fakeClock()
	b := newTestBroker(t, fc)
	desc := testDescriptor(t)

	code, err := b.CreateClaim(desc, 5*time.Minute)
	if err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}
	if len(code) != MinCodeLength {
		t.Errorf("code length = %d, want %d", len(code), MinCodeLength)
	}

	got, err := b.GetClaim(code)
	if err != nil {
		t.Fatalf("GetClaim: %v", err)
	}
	if string(got) != string(desc) {
		t.Error("returned descriptor differs from stored descriptor")
	}
}

func TestCodesUniqueAndUnambiguous(t *testing.T) {
	fc := fakeClock()
	b := newTestBroker(t, fc)
	desc := testDescriptor(t)

	seen := make(map[string]bool)
	for range 1000 {
		code, err := b.CreateClaim(desc, time.Hour)
		if err != nil {
			t.Fatalf("CreateClaim: %v", err)
		}
		if seen[code] {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = true
		if strings.ContainsAny(code, "0O1IL") {
			t.Fatalf("code %q contains an ambiguous character", code)
		}
		for _, r := range code {
			if !strings.ContainsRune(Alphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
	}
}

func TestGetClaimNormalizesInput(t *testing.T) {
	fc := fakeClock()
	b := newTestBroker(t, fc)

	code, err := b.CreateClaim(testDescriptor(t), time.Minute)
	if err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}

	lower := strings.ToLower(code)
	dashed := code[:3] + "-" + code[3:]
	spaced := code[:2] + " " + code[2:4] + " " + code[4:]
	for _, variant := range []string{lower, dashed, spaced, " " + lower + " "} {
		if _, err := b.GetClaim(variant); err != nil {
			t.Errorf("GetClaim(%q): %v", variant, err)
		}
	}
}

func TestExpiredClaimReadsAsAbsent(t *testing.T) {
	fc := fakeClock()
	b := newTestBroker(t, fc)

	code, err := b.CreateClaim(testDescriptor(t), time.Minute)
	if err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}

	fc.Advance(time.Minute)
	_, errExpired := b.GetClaim(code)
	_, errAbsent := b.GetClaim("ZZZZZZ")
	if !errors.Is(errExpired, ErrNotFound) {
		t.Errorf("expired claim = %v, want ErrNotFound", errExpired)
	}
	if !errors.Is(errAbsent, ErrNotFound) {
		t.Errorf("absent claim = %v, want ErrNotFound", errAbsent)
	}
	// Same error value either way: nothing distinguishes the cases.
	if errExpired.Error() != errAbsent.Error() {
		t.Error("expired and absent claims produce different errors")
	}
}

func TestCreateClaimValidation(t *testing.T) {
	b := newTestBroker(t, fakeClock())
	desc := testDescriptor(t)

	var verr *ValidationError
	if _, err := b.CreateClaim(nil, time.Minute); !errors.As(err, &verr) {
		t.Errorf("empty descriptor = %v, want ValidationError", err)
	}
	if _, err := b.CreateClaim([]byte{0xff, 0xff}, time.Minute); !errors.As(err, &verr) {
		t.Errorf("malformed descriptor = %v, want ValidationError", err)
	}
	if _, err := b.CreateClaim(desc, time.Minute); err != nil {
		t.Errorf("valid claim = %v, want nil", err)
	}
}

func TestNonPositiveTTLCreatesExpiredClaim(t *testing.T) {
	b := newTestBroker(t, fakeClock())
	desc := testDescriptor(t)

	// Creation succeeds; the claim just reads as absent from the start.
	for _, ttl := range []time.Duration{-time.Second, 0} {
		code, err := b.CreateClaim(desc, ttl)
		if err != nil {
			t.Fatalf("CreateClaim(ttl=%v): %v", ttl, err)
		}
		if _, err := b.GetClaim(code); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetClaim(ttl=%v) = %v, want ErrNotFound", ttl, err)
		}
		if _, err := b.RedeemClaim(code); !errors.Is(err, ErrNotFound) {
			t.Errorf("RedeemClaim(ttl=%v) = %v, want ErrNotFound", ttl, err)
		}
	}
}

func TestRedeemClaimConsumesCode(t *testing.T) {
	b := newTestBroker(t, fakeClock())
	desc := testDescriptor(t)

	code, err := b.CreateClaim(desc, time.Minute)
	if err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}

	got, err := b.RedeemClaim(code)
	if err != nil {
		t.Fatalf("RedeemClaim: %v", err)
	}
	if string(got) != string(desc) {
		t.Error("redeemed descriptor differs from stored descriptor")
	}
	if _, err := b.RedeemClaim(code); !errors.Is(err, ErrNotFound) {
		t.Errorf("second redeem = %v, want ErrNotFound", err)
	}
}

func TestDeleteClaimIdempotent(t *testing.T) {
	b := newTestBroker(t, fakeClock())

	code, err := b.CreateClaim(testDescriptor(t), time.Minute)
	if err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}

	b.DeleteClaim(code)
	if _, err := b.GetClaim(code); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetClaim after delete = %v, want ErrNotFound", err)
	}
	// Deleting again, and deleting garbage, must not panic or error.
	b.DeleteClaim(code)
	b.DeleteClaim("never-existed")
}

func TestCleanupCountsRemovals(t *testing.T) {
	fc := fakeClock()
	b := newTestBroker(t, fc)
	desc := testDescriptor(t)

	for range 3 {
		if _, err := b.CreateClaim(desc, time.Minute); err != nil {
			t.Fatalf("CreateClaim: %v", err)
		}
	}
	fc.Advance(10 * time.Minute)
	for range 2 {
		if _, err := b.CreateClaim(desc, time.Minute); err != nil {
			t.Fatalf("CreateClaim: %v", err)
		}
	}

	if removed := b.Cleanup(5 * time.Minute); removed != 3 {
		t.Errorf("Cleanup removed %d, want 3", removed)
	}
	if b.Len() != 2 {
		t.Errorf("Len = %d after cleanup, want 2", b.Len())
	}
	if removed := b.Cleanup(5 * time.Minute); removed != 0 {
		t.Errorf("second Cleanup removed %d, want 0", removed)
	}
}

func TestSweeperRemovesOldClaims(t *testing.T) {
	fc := fakeClock()
	b := newTestBroker(t, fc)

	if _, err := b.CreateClaim(testDescriptor(t), time.Minute); err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}

	stop := b.StartSweeper(time.Minute, 5*time.Minute)
	defer stop()
	fc.WaitForTimers(1)

	// Six ticks: by the last one the claim is past the retention window.
	for range 6 {
		fc.Advance(time.Minute)
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper did not remove the claim, Len = %d", b.Len())
		}
		time.Sleep(time.Millisecond)
	}

	// Stop is idempotent.
	stop()
	stop()
}

func TestNormalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"ABC2DE", "ABC2DE"},
		{"abc2de", "ABC2DE"},
		{"ab-c2-de", "ABC2DE"},
		{"ab c2 de", "ABC2DE"},
		{" a-B c2De ", "ABC2DE"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNewRejectsBadCodeLength(t *testing.T) {
	if _, err := New(Config{CodeLength: 5}); err == nil {
		t.Error("New accepted code length 5")
	}
	if _, err := New(Config{CodeLength: 9}); err == nil {
		t.Error("New accepted code length 9")
	}
	if b, err := New(Config{CodeLength: 8}); err != nil || b == nil {
		t.Errorf("New(8) = %v", err)
	}
}
