package passphrase

import "testing"

func TestSourceReadsEnvironment(t *testing.T) {
	t.Setenv("RAFFLE_TEST_PASSPHRASE", "hunter2")
	src := NewSource("RAFFLE_TEST_PASSPHRASE")
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "hunter2" {
		t.Fatalf("unexpected passphrase %q", got)
	}
	t.Setenv("RAFFLE_TEST_PASSPHRASE", "changed")
	if again, _ := src.Get(); again != "hunter2" {
		t.Fatalf("passphrase should be cached, got %q", again)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("RAFFLE_TEST_PASSPHRASE", "   ")
	if _, err := NewSource("RAFFLE_TEST_PASSPHRASE").Get(); err == nil {
		t.Fatalf("expected blank passphrase error")
	}
}
