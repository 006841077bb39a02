package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFromHTML(t *testing.T) {
	tests := []struct {
		name string
		html string
		want []string // substrings that must appear
		skip []string // substrings that must not
	}{
		{
			name: "strips script and style",
			html: `<html><head><style>body{color:red}</style></head><body><p>Visible ruling.</p><script>alert(1)</script></body></html>`,
			want: []string{"Visible ruling."},
			skip: []string{"alert", "color:red"},
		},
		{
			name: "keeps list items on separate lines",
			html: `<ul><li>first exhibit</li><li>second exhibit</li></ul>`,
			want: []string{"first exhibit\n", "second exhibit"},
		},
		{
			name: "plain text passes through",
			html: `no markup at all`,
			want: []string{"no markup at all"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromHTML(tt.html)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("FromHTML output missing %q:\n%s", w, got)
				}
			}
			for _, s := range tt.skip {
				if strings.Contains(got, s) {
					t.Errorf("FromHTML output should not contain %q:\n%s", s, got)
				}
			}
		})
	}
}

func TestText_Dispatch(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	t.Run("plain text", func(t *testing.T) {
		path := write("note.txt", "plain contents")
		got, err := Text(path)
		if err != nil {
			t.Fatal(err)
		}
		if got != "plain contents" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("markdown is stripped", func(t *testing.T) {
		path := write("report.md", "# Heading\n\nSome **bold** finding.")
		got, err := Text(path)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(got, "#") || strings.Contains(got, "**") {
			t.Errorf("markdown syntax survived: %q", got)
		}
		if !strings.Contains(got, "Heading") || !strings.Contains(got, "bold") {
			t.Errorf("content lost: %q", got)
		}
	})

	t.Run("html is stripped", func(t *testing.T) {
		path := write("page.html", "<html><body><p>hello</p><script>x()</script></body></html>")
		got, err := Text(path)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(got, "hello") || strings.Contains(got, "x()") {
			t.Errorf("got %q", got)
		}
	})

	t.Run("invalid utf8 is replaced", func(t *testing.T) {
		path := write("raw.bin", "ok\xff\xfe")
		got, err := Text(path)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(got, "ok") || strings.Contains(got, "\xff") {
			t.Errorf("got %q", got)
		}
	})

	t.Run("corrupt pdf yields error text not an error", func(t *testing.T) {
		path := write("broken.pdf", "not a pdf at all")
		got, err := Text(path)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(got, "[PDF ERROR:") {
			t.Errorf("got %q, want bracketed PDF error text", got)
		}
	})

	t.Run("missing file is an error", func(t *testing.T) {
		if _, err := Text(filepath.Join(dir, "nope.txt")); err == nil {
			t.Error("expected an error for a missing file")
		}
	})
}
