package util_test

import (
	"strings"
	"testing"

	"github.com/ghettovoice/siptx/internal/util"
)

func TestRandString(t *testing.T) {
	t.Parallel()

	for range 100 {
		s := util.RandStringLC(16)
		if len(s) != 16 {
			t.Fatalf("len(util.RandStringLC(16)) = %d, want 16", len(s))
		}
		if s != strings.ToLower(s) {
			t.Fatalf("util.RandStringLC(16) = %q, want lower case", s)
		}
		if v := util.RandUint31(); v == 0 || v > 1<<31-1 {
			t.Fatalf("util.RandUint31() = %d, want in [1, 2^31-1]", v)
		}
	}
}

func TestContainsFold(t *testing.T) {
	t.Parallel()

	list := []string{"100rel", "Timer"}
	if !util.ContainsFold(list, "timer") {
		t.Error("util.ContainsFold(list, \"timer\") = false, want true")
	}
	if util.ContainsFold(list, "path") {
		t.Error("util.ContainsFold(list, \"path\") = true, want false")
	}
}
