package idmap

import (
	"strings"
	"testing"
)

func TestParseSubIDsFiltersByOwner(t *testing.T) {
	data := "alice:100000:65536\nbob:200000:65536\n1000:300000:1000\n"

	got, err := parseSubIDs(strings.NewReader(data), "/etc/subuid", "alice", 1000)
	if err != nil {
		t.Fatalf("parseSubIDs() error = %v", err)
	}
	want := Map{{Outer: 100000, Length: 65536}, {Outer: 300000, Length: 1000}}
	if !mapsEqual(got, want) {
		t.Errorf("parseSubIDs() = %+v, want %+v", got, want)
	}
}

func TestParseSubIDsSkipsCommentsAndBlankLines(t *testing.T) {
	data := "# comment\n\nalice:100000:65536\n"
	got, err := parseSubIDs(strings.NewReader(data), "/etc/subuid", "alice", 1000)
	if err != nil {
		t.Fatalf("parseSubIDs() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("parseSubIDs() = %+v, want 1 entry", got)
	}
}

func TestParseSubIDsMalformedLine(t *testing.T) {
	_, err := parseSubIDs(strings.NewReader("alice-100000-65536\n"), "/etc/subuid", "alice", 1000)
	if err == nil {
		t.Fatal("parseSubIDs() expected error for malformed line")
	}
}

func TestParseProcMap(t *testing.T) {
	data := "0          0 4294967295\n"
	got, err := parseProcMap(strings.NewReader(data), "/proc/self/uid_map")
	if err != nil {
		t.Fatalf("parseProcMap() error = %v", err)
	}
	want := Map{{Inner: 0, Outer: 0, Length: 4294967295}}
	if !mapsEqual(got, want) {
		t.Errorf("parseProcMap() = %+v, want %+v", got, want)
	}
}

func TestParseProcMapMalformed(t *testing.T) {
	_, err := parseProcMap(strings.NewReader("0 0\n"), "/proc/self/uid_map")
	if err == nil {
		t.Fatal("parseProcMap() expected error for malformed line")
	}
}
