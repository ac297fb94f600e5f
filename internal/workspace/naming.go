package workspace

import (
	"regexp"

	"github.com/nikhilranga4/online-compiler-backend/internal/language"
)

// Matches the public class declaration that names a Java entry point.
var javaPublicClassRe = regexp.MustCompile(`(?m)\bpublic\s+(?:final\s+|abstract\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`)

// SourceFileName resolves the filename the source must be written under.
// Most languages use the profile's static name; languages whose entry
// point identity is declared inside the source (Java) derive it from the
// declared identifier, falling back to the profile's fixed fallback name
// when no declaration is found.
func SourceFileName(profile language.Profile, source string) string {
	if profile.SourceFileName != "" {
		return profile.SourceFileName
	}

	if profile.ID == language.LanguageJava {
		if m := javaPublicClassRe.FindStringSubmatch(source); m != nil {
			return m[1] + ".java"
		}
	}

	return profile.FallbackFileName
}
