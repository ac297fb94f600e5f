package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nikhilranga4/online-compiler-backend/internal/language"
)

func pythonProfile() language.Profile {
	return language.Profile{
		ID:             language.LanguagePython,
		Image:          "python:3.12-alpine",
		SourceFileName: "main.py",
		RunCommand:     []string{"python3", "-u", "{src}"},
	}
}

func TestAcquireWritesSourceAndStdin(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager unexpected error: %v", err)
	}

	ws, err := m.Acquire("exec-1", pythonProfile(), "print('hi')", "alice\n")
	if err != nil {
		t.Fatalf("Acquire unexpected error: %v", err)
	}
	defer m.Release(ws)

	if ws.SourceFile != "main.py" {
		t.Errorf("SourceFile = %q, want main.py", ws.SourceFile)
	}

	src, err := os.ReadFile(ws.SourcePath())
	if err != nil {
		t.Fatalf("read source: %v", err)
	}
	if string(src) != "print('hi')" {
		t.Errorf("source content = %q", src)
	}

	if ws.StdinFile != StdinFileName {
		t.Errorf("StdinFile = %q, want %q", ws.StdinFile, StdinFileName)
	}
	stdin, err := os.ReadFile(filepath.Join(ws.RootPath, ws.StdinFile))
	if err != nil {
		t.Fatalf("read stdin: %v", err)
	}
	if string(stdin) != "alice\n" {
		t.Errorf("stdin content = %q", stdin)
	}
}

func TestAcquireOmitsEmptyStdin(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager unexpected error: %v", err)
	}

	ws, err := m.Acquire("exec-2", pythonProfile(), "print(1)", "")
	if err != nil {
		t.Fatalf("Acquire unexpected error: %v", err)
	}
	defer m.Release(ws)

	if ws.StdinFile != "" {
		t.Errorf("StdinFile = %q, want empty", ws.StdinFile)
	}
	if _, err := os.Stat(filepath.Join(ws.RootPath, StdinFileName)); !os.IsNotExist(err) {
		t.Errorf("stdin file should not exist, stat err = %v", err)
	}
}

func TestAcquireIsolation(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager unexpected error: %v", err)
	}

	a, err := m.Acquire("exec-a", pythonProfile(), "print('a')", "")
	if err != nil {
		t.Fatalf("Acquire a: %v", err)
	}
	defer m.Release(a)

	b, err := m.Acquire("exec-b", pythonProfile(), "print('b')", "")
	if err != nil {
		t.Fatalf("Acquire b: %v", err)
	}
	defer m.Release(b)

	if a.RootPath == b.RootPath {
		t.Errorf("workspaces share a root: %q", a.RootPath)
	}
}

func TestReleaseRemovesDirectory(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager unexpected error: %v", err)
	}

	ws, err := m.Acquire("exec-3", pythonProfile(), "print(1)", "x")
	if err != nil {
		t.Fatalf("Acquire unexpected error: %v", err)
	}

	m.Release(ws)
	if _, err := os.Stat(ws.RootPath); !os.IsNotExist(err) {
		t.Errorf("workspace dir should be gone, stat err = %v", err)
	}

	// Double release and nil release are no-ops.
	m.Release(ws)
	m.Release(nil)
}

func TestSourceFileName(t *testing.T) {
	javaProfile := language.Profile{
		ID:               language.LanguageJava,
		FallbackFileName: "Main.java",
	}

	tests := []struct {
		name    string
		profile language.Profile
		source  string
		want    string
	}{
		{
			name:    "static name wins",
			profile: pythonProfile(),
			source:  "print(1)",
			want:    "main.py",
		},
		{
			name:    "java public class",
			profile: javaProfile,
			source:  "public class Solution { public static void main(String[] a) {} }",
			want:    "Solution.java",
		},
		{
			name:    "java final class",
			profile: javaProfile,
			source:  "public final class App {}",
			want:    "App.java",
		},
		{
			name:    "java abstract class",
			profile: javaProfile,
			source:  "public abstract class Base {}",
			want:    "Base.java",
		},
		{
			name:    "java multiline",
			profile: javaProfile,
			source:  "import java.util.*;\n\npublic class Runner {\n}\n",
			want:    "Runner.java",
		},
		{
			name:    "java no public class falls back",
			profile: javaProfile,
			source:  "class Helper {}",
			want:    "Main.java",
		},
		{
			name:    "java empty source falls back",
			profile: javaProfile,
			source:  "",
			want:    "Main.java",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SourceFileName(tt.profile, tt.source); got != tt.want {
				t.Errorf("SourceFileName() = %q, want %q", got, tt.want)
			}
		})
	}
}
