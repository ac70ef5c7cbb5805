package tags_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/tagstore/internal/tags"
)

func Test_ValidGroupID_Accepts_Only_Alphanumerics(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		id   string
		want bool
	}{
		{id: "team1", want: true},
		{id: "ABCxyz0189", want: true},
		{id: "", want: false},
		{id: "team-1", want: false},
		{id: "a/b", want: false},
		{id: "../etc", want: false},
		{id: "a b", want: false},
		{id: "a_b", want: false},
		{id: "ünïcode", want: false},
	}

	for _, testCase := range testCases {
		if got := tags.ValidGroupID(testCase.id); got != testCase.want {
			t.Errorf("ValidGroupID(%q)=%v, want %v", testCase.id, got, testCase.want)
		}
	}

	if err := tags.ValidateGroupID("a-b"); !errors.Is(err, tags.ErrInvalidGroupID) {
		t.Fatalf("ValidateGroupID(%q): err=%v, want %v", "a-b", err, tags.ErrInvalidGroupID)
	}
}

func Test_GroupIDFromFileName_Recognizes_Storage_Files_Only(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		wantID string
		wantOK bool
	}{
		{name: "tags_demo.txt", wantID: "demo", wantOK: true},
		{name: tags.FileName("Team7"), wantID: "Team7", wantOK: true},
		{name: "tags_demo.txt.lock", wantOK: false},
		{name: ".tags_demo.txt", wantOK: false},
		{name: "tags_.txt", wantOK: false},
		{name: "tags_de-mo.txt", wantOK: false},
		{name: "demo.txt", wantOK: false},
		{name: "tags_demo.txt.stale-abcdef", wantOK: false},
		{name: "tags_demo.txt.tmp123", wantOK: false},
	}

	for _, testCase := range testCases {
		id, ok := tags.GroupIDFromFileName(testCase.name)
		if ok != testCase.wantOK || id != testCase.wantID {
			t.Errorf("GroupIDFromFileName(%q)=(%q,%v), want (%q,%v)",
				testCase.name, id, ok, testCase.wantID, testCase.wantOK)
		}
	}
}

func Test_Normalize_Trims_And_Drops_Empty(t *testing.T) {
	t.Parallel()

	got, err := tags.Normalize([]string{"  ops ", "", "   ", "dev", "\tOPS\n"})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	want := []string{"ops", "dev", "OPS"}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Normalize mismatch (-want +got):\n%s", diff)
	}
}

func Test_Normalize_Rejects_Batch_When_A_Tag_Contains_Line_Break(t *testing.T) {
	t.Parallel()

	for _, candidates := range [][]string{
		{"Red", "x\nred"},
		{"a\rb"},
		{"  ok  ", "multi\r\nline "},
	} {
		got, err := tags.Normalize(candidates)
		if !errors.Is(err, tags.ErrInvalidTag) {
			t.Errorf("Normalize(%q): err=%v, want %v", candidates, err, tags.ErrInvalidTag)
		}

		if got != nil {
			t.Errorf("Normalize(%q)=%q, want nil", candidates, got)
		}
	}
}

func Test_Set_Keeps_First_Casing_And_Sorts_For_Presentation(t *testing.T) {
	t.Parallel()

	set := tags.NewSet("Red", "blue")

	if set.Add("red") {
		t.Fatal("Add(red) after Red reported inserted")
	}

	if !set.Add("Green") {
		t.Fatal("Add(Green) reported not inserted")
	}

	if !set.Has("RED") || set.Has("yellow") {
		t.Fatal("Has reported wrong membership")
	}

	if diff := cmp.Diff([]string{"Red", "blue", "Green"}, set.Tags()); diff != "" {
		t.Fatalf("Tags mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"Green", "Red", "blue"}, set.Sorted()); diff != "" {
		t.Fatalf("Sorted mismatch (-want +got):\n%s", diff)
	}

	clone := set.Clone()
	clone.Add("purple")

	if set.Len() != 3 || clone.Len() != 4 {
		t.Fatalf("Clone shares state: len=%d clone=%d", set.Len(), clone.Len())
	}
}
