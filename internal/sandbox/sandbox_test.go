package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestDir_Resolve(t *testing.T) {
	root := t.TempDir()
	d, err := New(root)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain name", "case_123.txt", false},
		{"nested path", "exhibits/a1.pdf", false},
		{"dot prefix", "./case_123.txt", false},
		{"parent escape", "../outside.txt", true},
		{"absolute escape", "/etc/passwd", true},
		{"sneaky escape", "exhibits/../../outside.txt", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Resolve(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Resolve(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				var violation *ViolationError
				if !errors.As(err, &violation) {
					t.Errorf("Resolve(%q) error = %v, want ViolationError", tt.input, err)
				}
			}
		})
	}
}

func TestDir_SymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Fatal(err)
	}

	d, err := New(root)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := d.ReadText("link.txt"); err == nil {
		t.Fatal("reading through an escaping symlink should fail")
	} else {
		var violation *ViolationError
		if !errors.As(err, &violation) {
			t.Errorf("error = %v, want ViolationError", err)
		}
	}
}

func TestDir_SaveAndRead(t *testing.T) {
	d, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	content := "Findings:\n1. The contract was signed.\n"
	saved, err := d.Save("report.md", content)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved != "report.md" {
		t.Errorf("saved name = %q, want %q", saved, "report.md")
	}

	got, err := d.ReadText("report.md")
	if err != nil {
		t.Fatalf("ReadText failed: %v", err)
	}
	if got != content {
		t.Errorf("round trip mismatch: got %q, want %q", got, content)
	}
}

func TestDir_SaveStripsPath(t *testing.T) {
	d, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	// Path components in the name are discarded, only the base survives.
	saved, err := d.Save("../../evil/report.md", "x")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved != "report.md" {
		t.Errorf("saved name = %q, want %q", saved, "report.md")
	}
	if _, err := d.ReadText("report.md"); err != nil {
		t.Errorf("ReadText after Save failed: %v", err)
	}
}

func TestDir_SaveRejectsDegenerateNames(t *testing.T) {
	d, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"", ".", ".."} {
		if _, err := d.Save(name, "x"); err == nil {
			t.Errorf("Save(%q) should fail", name)
		}
	}
}

func TestDir_ReadTextNotFound(t *testing.T) {
	d, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, err = d.ReadText("missing.txt")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDir_List(t *testing.T) {
	root := t.TempDir()
	d, err := New(root)
	if err != nil {
		t.Fatal(err)
	}

	names, err := d.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Fatalf("empty dir should list nothing, got %v", names)
	}

	for _, f := range []string{"b.txt", "a.txt"} {
		if err := os.WriteFile(filepath.Join(root, f), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// Directories are not files and stay out of the listing.
	if err := os.Mkdir(filepath.Join(root, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	names, err = d.List()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(names, ",") != "a.txt,b.txt" {
		t.Errorf("List = %v, want [a.txt b.txt]", names)
	}
}
