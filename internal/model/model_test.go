package model

import (
	"testing"
	"time"
)

func TestWinnerFor(t *testing.T) {
	older := time.Unix(10, 0)
	newer := time.Unix(20, 0)

	tests := []struct {
		name   string
		choice Choice
		a, b   time.Time
		want   Side
	}{
		{"newer picks B when B is newer", ChoicePreferNewer, older, newer, SideB},
		{"newer picks A when A is newer", ChoicePreferNewer, newer, older, SideA},
		{"older picks A when A is older", ChoicePreferOlder, older, newer, SideA},
		{"older picks B when B is older", ChoicePreferOlder, newer, older, SideB},
		{"newer tie breaks to A", ChoicePreferNewer, older, older, SideA},
		{"older tie breaks to A", ChoicePreferOlder, newer, newer, SideA},
		{"inspect_then_newer behaves like prefer_newer", ChoiceInspectThenNewer, older, newer, SideB},
		{"inspect_then_older behaves like prefer_older", ChoiceInspectThenOlder, older, newer, SideA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WinnerFor(tt.choice, tt.a, tt.b); got != tt.want {
				t.Fatalf("WinnerFor(%s) = %s, want %s", tt.choice, got, tt.want)
			}
		})
	}
}

func TestNeedsHash(t *testing.T) {
	h := uint64(7)

	bothFiles := PathRecord{KindA: KindFile, KindB: KindFile, SizeA: 4, SizeB: 4}
	if !bothFiles.NeedsHash(SideA) || !bothFiles.NeedsHash(SideB) {
		t.Fatal("equal-size file pair needs both hashes")
	}

	sized := bothFiles
	sized.SizeB = 5
	if sized.NeedsHash(SideA) {
		t.Fatal("size mismatch short-circuits hashing")
	}

	hashed := bothFiles
	hashed.HashA = &h
	if hashed.NeedsHash(SideA) {
		t.Fatal("already-hashed side does not need rehashing")
	}
	if !hashed.NeedsHash(SideB) {
		t.Fatal("other side still needs its hash")
	}

	mixed := PathRecord{KindA: KindFile, KindB: KindDir}
	if mixed.NeedsHash(SideA) {
		t.Fatal("kind mismatch never hashes")
	}
}
