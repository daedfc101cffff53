package notes

import (
	"reflect"
	"testing"
)

func TestNormalizeTagsDeduplicatesAndLowercases(t *testing.T) {
	got := NormalizeTags([]string{" Work ", "work", "", "Home", "WORK"})
	want := []string{"work", "home"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestNormalizeTagsEmptyInput(t *testing.T) {
	if got := NormalizeTags(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if got := NormalizeTags([]string{"", "  "}); len(got) != 0 {
		t.Fatalf("expected no tags, got %v", got)
	}
}

func TestSerializeAndParseRoundTrip(t *testing.T) {
	serialized := SerializeTags([]string{"Alpha", "beta", "alpha"})
	if serialized != "alpha,beta" {
		t.Fatalf("unexpected serialization %q", serialized)
	}
	parsed := ParseTags(serialized)
	if !reflect.DeepEqual(parsed, []string{"alpha", "beta"}) {
		t.Fatalf("unexpected parse result %v", parsed)
	}
}

func TestParseTagsSkipsEmptySegments(t *testing.T) {
	if got := ParseTags(""); got != nil {
		t.Fatalf("expected nil for empty text, got %v", got)
	}
	if got := ParseTags("a,,b"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected parse result %v", got)
	}
}
