package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	base := errors.New("disk full")
	err := New(StoreCorrupt, "failed to persist result", base)

	msg := err.Error()
	if !strings.Contains(msg, "STORE_CORRUPT") {
		t.Errorf("code missing from message: %q", msg)
	}
	if !strings.Contains(msg, "disk full") {
		t.Errorf("cause missing from message: %q", msg)
	}

	noCause := Newf(QueueUnavailable, "queue shut down after %d requests", 3)
	if strings.Contains(noCause.Error(), "<nil>") {
		t.Errorf("nil cause rendered: %q", noCause.Error())
	}
}

func TestUnwrapChain(t *testing.T) {
	base := errors.New("segfault in binder")
	err := fmt.Errorf("analyzing doc1: %w", New(OracleInternal, "bind faulted", base))

	if !errors.Is(err, base) {
		t.Error("errors.Is should reach the base cause")
	}
	if CodeOf(err) != OracleInternal {
		t.Errorf("CodeOf = %s, want ORACLE_INTERNAL", CodeOf(err))
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if CodeOf(errors.New("plain")) != Internal {
		t.Error("plain errors should map to INTERNAL_ERROR")
	}
	if HasCode(nil, Internal) {
		t.Error("nil error has no code")
	}
}
