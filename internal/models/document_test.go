package models

import "testing"

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" go ", "", "db", "go", "db ", "x"})
	want := []string{"go", "db", "x"}
	if len(got) != len(want) {
		t.Fatalf("tags = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tags[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCountTags_IgnoresDuplicatesWithinDocument(t *testing.T) {
	m := &WorkspaceMetadata{Documents: map[string]DocumentMetadata{
		"a.md": {Tags: []string{"go", "go", "db"}},
		"b.md": {Tags: []string{"go"}},
	}}
	counts := m.CountTags()
	if counts["go"] != 2 || counts["db"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := &WorkspaceMetadata{Documents: map[string]DocumentMetadata{
		"a.md": {Tags: []string{"go"}},
	}}
	c := m.Clone()
	d := c.Documents["a.md"]
	d.Tags[0] = "changed"
	if m.Documents["a.md"].Tags[0] != "go" {
		t.Error("clone shares tag slice with original")
	}
}

func TestModeValid(t *testing.T) {
	for _, m := range Modes() {
		if !m.Valid() {
			t.Errorf("%q should be valid", m)
		}
	}
	if Mode("wysiwyg").Valid() {
		t.Error("unknown mode reported valid")
	}
}
