package profile

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/matheus3301/chatsync/internal/config"
)

func TestPaths(t *testing.T) {
	base := t.TempDir()
	t.Setenv(HomeEnv, base)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"dir", Dir("work"), filepath.Join(base, "profiles", "work")},
		{"socket", SocketPath("work"), filepath.Join(base, "profiles", "work", "daemon.sock")},
		{"lock", LockPath("work"), filepath.Join(base, "profiles", "work", "LOCK")},
		{"db", DBPath("work"), filepath.Join(base, "profiles", "work", "chatsync.db")},
		{"config", ConfigPath("work"), filepath.Join(base, "profiles", "work", "config.toml")},
		{"log", LogPath("work"), filepath.Join(base, "profiles", "work", "logs", "daemon.log")},
		{"global", GlobalConfigPath(), filepath.Join(base, "config.toml")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestBaseDirDefault(t *testing.T) {
	t.Setenv(HomeEnv, "")
	if !strings.HasSuffix(BaseDir(), ".chatsync") {
		t.Errorf("BaseDir() = %q, want suffix .chatsync", BaseDir())
	}
}

func TestEnsureDirAndList(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	names, err := List()
	if err != nil || names != nil {
		t.Fatalf("List() on empty base = %v, %v", names, err)
	}
	for _, n := range []string{"work", "default"} {
		if err := EnsureDir(n); err != nil {
			t.Fatalf("EnsureDir(%s) error = %v", n, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(BaseDir(), "profiles", "Not Valid"), 0700); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(LogDir("work"))
	if err != nil || !info.IsDir() {
		t.Fatalf("log dir not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("log dir permission = %o, want 0700", perm)
	}

	names, err = List()
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"default", "work"}; !reflect.DeepEqual(names, want) {
		t.Errorf("List() = %v, want %v", names, want)
	}
}

func TestResolve(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	t.Setenv(NameEnv, "")

	if got := Resolve(""); got != DefaultName {
		t.Errorf("Resolve() without config = %q, want %q", got, DefaultName)
	}

	if err := config.SaveGlobal(GlobalConfigPath(), &config.Global{DefaultProfile: "home"}); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "home" {
		t.Errorf("Resolve() with global default = %q, want home", got)
	}

	t.Setenv(NameEnv, "env")
	if got := Resolve(""); got != "env" {
		t.Errorf("Resolve() with env = %q, want env", got)
	}
	if got := Resolve("flag"); got != "flag" {
		t.Errorf("Resolve(flag) = %q, want flag", got)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "default", false},
		{"valid with numbers", "work123", false},
		{"valid with hyphen", "my-profile", false},
		{"valid with underscore", "my_profile", false},
		{"valid single char", "a", false},
		{"valid max length", strings.Repeat("a", 64), false},
		{"empty", "", true},
		{"uppercase", "Work", true},
		{"space", "my profile", true},
		{"dot", "my.profile", true},
		{"too long", strings.Repeat("a", 65), true},
		{"special chars", "my@profile", true},
		{"slash", "my/profile", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidName) {
				t.Errorf("ValidateName(%q) error = %v, want ErrInvalidName", tt.input, err)
			}
		})
	}
}
