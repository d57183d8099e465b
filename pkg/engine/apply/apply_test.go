package apply

import (
	"os"
	"path/filepath"
	"testing"

	"AgentEngine/pkg/engine/edits"
)

func TestApplyReplaceExactRegion(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "main.go")
	if err := os.WriteFile(path, []byte("package main\n\nfunc old() {}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	stats, err := Apply(root, edits.Payload{Operations: []edits.Operation{
		{Kind: edits.OpReplaceExact, Path: "main.go", OldText: "func old() {}", NewText: "func new() {}"},
	}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !stats.Applied || stats.FilesChanged != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	got, _ := os.ReadFile(path)
	if string(got) != "package main\n\nfunc new() {}\n" {
		t.Fatalf("unexpected file contents: %q", got)
	}
}

func TestApplyReplaceExactRejectsAmbiguousMatch(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	if err := os.WriteFile(path, []byte("x\nx\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Apply(root, edits.Payload{Operations: []edits.Operation{
		{Kind: edits.OpReplaceExact, Path: "f.txt", OldText: "x", NewText: "y"},
	}})
	if err == nil {
		t.Fatalf("expected error for a non-unique old_text match")
	}
}

func TestApplyCreateFileRejectsExisting(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "exists.txt")
	if err := os.WriteFile(path, []byte("already here"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Apply(root, edits.Payload{Operations: []edits.Operation{
		{Kind: edits.OpCreateFile, Path: "exists.txt", NewText: "new content"},
	}})
	if err == nil {
		t.Fatalf("expected error creating a file that already exists")
	}
}

func TestApplyRejectsWorkspaceEscape(t *testing.T) {
	root := t.TempDir()
	_, err := Apply(root, edits.Payload{Operations: []edits.Operation{
		{Kind: edits.OpCreateFile, Path: "../escape.txt", NewText: "x"},
	}})
	if err == nil {
		t.Fatalf("expected error for a path escaping the repo root")
	}
}

func TestApplyValidatesAllOperationsBeforeWritingAny(t *testing.T) {
	root := t.TempDir()
	goodPath := filepath.Join(root, "good.txt")
	if err := os.WriteFile(goodPath, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	badPath := filepath.Join(root, "bad.txt")
	if err := os.WriteFile(badPath, []byte("z\nz\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Apply(root, edits.Payload{Operations: []edits.Operation{
		{Kind: edits.OpReplaceExact, Path: "good.txt", OldText: "hello", NewText: "goodbye"},
		{Kind: edits.OpReplaceExact, Path: "bad.txt", OldText: "z", NewText: "q"}, // matches twice
	}})
	if err == nil {
		t.Fatalf("expected the batch to fail validation")
	}

	got, _ := os.ReadFile(goodPath)
	if string(got) != "hello" {
		t.Fatalf("good.txt was written even though the batch should have failed validation first: %q", got)
	}
}

func TestApplyInsertAtLineAppendsWhenLineIsZero(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	if err := os.WriteFile(path, []byte("a\nb\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Apply(root, edits.Payload{Operations: []edits.Operation{
		{Kind: edits.OpInsertAtLine, Path: "f.txt", Line: 0, NewText: "c\n"},
	}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, _ := os.ReadFile(path)
	want := "a\nb\n\nc"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSortedPathsDedupesAndSorts(t *testing.T) {
	got := SortedPaths(edits.Payload{Operations: []edits.Operation{
		{Path: "b.txt"}, {Path: "a.txt"}, {Path: "b.txt"},
	}})
	want := []string{"a.txt", "b.txt"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}
