package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseKeyValues(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty", pairs: nil, want: map[string]string{}},
		{name: "single", pairs: []string{"FOO=bar"}, want: map[string]string{"FOO": "bar"}},
		{name: "multiple", pairs: []string{"FOO=bar", "BAZ=qux"}, want: map[string]string{"FOO": "bar", "BAZ": "qux"}},
		{name: "value contains equals", pairs: []string{"FOO=bar=baz"}, want: map[string]string{"FOO": "bar=baz"}},
		{name: "empty value", pairs: []string{"FOO="}, want: map[string]string{"FOO": ""}},
		{name: "missing equals", pairs: []string{"INVALID"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseKeyValues(tt.pairs)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("got[%q] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestReadSourcePrefersInlineCode(t *testing.T) {
	runInlineCode = "print(1)"
	defer func() { runInlineCode = "" }()

	code, path, err := readSource(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != "print(1)" || path != "" {
		t.Errorf("got code=%q path=%q", code, path)
	}
}

func TestReadSourceFromFilePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "script.py")
	if err := os.WriteFile(file, []byte("print(2)"), 0o644); err != nil {
		t.Fatal(err)
	}

	code, path, err := readSource([]string{file})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != "print(2)" || path != file {
		t.Errorf("got code=%q path=%q", code, path)
	}
}

