package language

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedLanguage is returned when no profile exists for a language.
// Consumers must fail fast on it rather than guessing a default image.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Language identifies a supported programming language
type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguagePython     Language = "python"
	LanguageJava       Language = "java"
	LanguageCPP        Language = "cpp"
	LanguageC          Language = "c"
	LanguageGo         Language = "go"
)

// IsValid checks if the language is supported
func (l Language) IsValid() bool {
	switch l {
	case LanguageJavaScript, LanguagePython, LanguageJava, LanguageCPP, LanguageC, LanguageGo:
		return true
	default:
		return false
	}
}

// String returns the language as a string
func (l Language) String() string {
	return string(l)
}

// Parse converts a string to a Language
func Parse(s string) (Language, error) {
	lang := Language(strings.ToLower(strings.TrimSpace(s)))
	if !lang.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, s)
	}
	return lang, nil
}

// Profile contains the static per-language execution configuration:
// runtime image, source filename rule and run command template.
type Profile struct {
	ID Language `yaml:"id"`

	// Image is the runtime image the environment is created from.
	Image string `yaml:"image"`

	// SourceFileName is the static source filename. Empty means the name
	// is derived from the source itself (Java public class rule), with
	// FallbackFileName used when no declaration is found.
	SourceFileName   string `yaml:"source_file_name"`
	FallbackFileName string `yaml:"fallback_file_name,omitempty"`

	// RunCommand is the argv template executed in the environment.
	// {src} expands to the source filename, {base} to the filename
	// without its extension.
	RunCommand []string `yaml:"run_command"`

	// InputVariant, when set, replaces RunCommand for executions that
	// carry stdin. The built-in profiles leave it nil: stdin is streamed
	// to the environment's attached input and closed to signal EOF.
	InputVariant []string `yaml:"input_variant,omitempty"`

	// ShellCommand is the argv for interactive terminal sessions.
	ShellCommand []string `yaml:"shell_command,omitempty"`

	// Compiled marks languages whose run includes a compile step writing
	// artifacts next to the source; those environments get a writable
	// filesystem.
	Compiled bool `yaml:"compiled,omitempty"`
}

// Argv expands the run command template for a concrete source filename.
func (p Profile) Argv(sourceFile string, hasStdin bool) []string {
	tmpl := p.RunCommand
	if hasStdin && len(p.InputVariant) > 0 {
		tmpl = p.InputVariant
	}

	base := strings.TrimSuffix(sourceFile, fileExt(sourceFile))
	argv := make([]string, len(tmpl))
	for i, a := range tmpl {
		a = strings.ReplaceAll(a, "{src}", sourceFile)
		a = strings.ReplaceAll(a, "{base}", base)
		argv[i] = a
	}
	return argv
}

// Shell returns the interactive shell argv for the profile.
func (p Profile) Shell() []string {
	if len(p.ShellCommand) > 0 {
		return p.ShellCommand
	}
	return []string{"/bin/sh"}
}

func fileExt(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
}

// Registry is the immutable language profile lookup table. It is loaded
// once at startup and performs no I/O afterwards.
type Registry struct {
	profiles map[Language]Profile
}

// NewRegistry builds a registry from the built-in profiles.
func NewRegistry() *Registry {
	return &Registry{profiles: builtinProfiles()}
}

// Lookup returns the profile for a language or ErrUnsupportedLanguage.
func (r *Registry) Lookup(id Language) (Profile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, id)
	}
	return p, nil
}

// LookupString parses and looks up a language in one step.
func (r *Registry) LookupString(s string) (Profile, error) {
	lang := Language(strings.ToLower(strings.TrimSpace(s)))
	return r.Lookup(lang)
}

// Supported returns the ids of all registered languages.
func (r *Registry) Supported() []Language {
	langs := make([]Language, 0, len(r.profiles))
	for lang := range r.profiles {
		langs = append(langs, lang)
	}
	return langs
}

func builtinProfiles() map[Language]Profile {
	return map[Language]Profile{
		LanguageJavaScript: {
			ID:             LanguageJavaScript,
			Image:          "node:20-alpine",
			SourceFileName: "main.js",
			RunCommand:     []string{"node", "{src}"},
		},
		LanguagePython: {
			ID:             LanguagePython,
			Image:          "python:3.12-alpine",
			SourceFileName: "main.py",
			RunCommand:     []string{"python3", "-u", "{src}"},
		},
		LanguageJava: {
			ID:               LanguageJava,
			Image:            "eclipse-temurin:21",
			FallbackFileName: "Main.java",
			RunCommand:       []string{"sh", "-c", "javac {src} && java {base}"},
			ShellCommand:     []string{"/bin/bash"},
			Compiled:         true,
		},
		LanguageCPP: {
			ID:             LanguageCPP,
			Image:          "gcc:13",
			SourceFileName: "main.cpp",
			RunCommand:     []string{"sh", "-c", "g++ -std=c++17 -O2 -Wall -o {base} {src} && ./{base}"},
			ShellCommand:   []string{"/bin/bash"},
			Compiled:       true,
		},
		LanguageC: {
			ID:             LanguageC,
			Image:          "gcc:13",
			SourceFileName: "main.c",
			RunCommand:     []string{"sh", "-c", "gcc -O2 -Wall -o {base} {src} && ./{base}"},
			ShellCommand:   []string{"/bin/bash"},
			Compiled:       true,
		},
		LanguageGo: {
			ID:             LanguageGo,
			Image:          "golang:1.23-alpine",
			SourceFileName: "main.go",
			RunCommand:     []string{"go", "run", "{src}"},
			Compiled:       true,
		},
	}
}
