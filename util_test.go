package enumdb

import (
	"errors"
	"log/slog"
	"testing"
)

func TestHexHelpers(t *testing.T) {
	if got := hexstr(nil); got != "<nil>" {
		t.Fatalf("hexstr(nil) = %q, wanted <nil>", got)
	}
	if got := hexstr([]byte{}); got != "<empty>" {
		t.Fatalf("hexstr(empty) = %q, wanted <empty>", got)
	}
	if got := hexstr([]byte{0xAA, 0xBB}); got != "aabb" {
		t.Fatalf("hexstr = %q, wanted aabb", got)
	}
	a := hexAttr("k", []byte{0xAA})
	if a.Key != "k" || a.Value.Kind() != slog.KindString || a.Value.String() != "aa" {
		t.Fatalf("hexAttr returned unexpected attr: %+v", a)
	}
}

func TestMustEnsure(t *testing.T) {
	if v := must(42, nil); v != 42 {
		t.Fatalf("must = %d, wanted 42", v)
	}
	ensure(nil)

	boom := errors.New("boom")
	defer func() {
		if e := recover(); e != boom {
			t.Fatalf("recover() = %v, wanted boom", e)
		}
	}()
	ensure(boom)
}
