package taskgraph

import (
	"regexp"
)

// namePattern is the grammar shared by placeholder names and output keys, so
// default ids such as task-1 can be referenced.
const namePattern = `[A-Za-z_][A-Za-z0-9_.-]*`

// placeholderPattern matches {name} tokens. Braces around anything that is
// not a name are left as literal text.
var (
	placeholderPattern = regexp.MustCompile(`\{(` + namePattern + `)\}`)
	validName          = regexp.MustCompile(`^` + namePattern + `$`)
)

// ValidName reports whether name can appear inside a {name} placeholder.
func ValidName(name string) bool {
	return validName.MatchString(name)
}

// Placeholders returns the distinct placeholder names in template, in order
// of first appearance.
func Placeholders(template string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		names = append(names, m[1])
	}
	return names
}

// Lookup resolves a placeholder name to its value.
type Lookup func(name string) (string, bool)

// Render substitutes every placeholder in template in a single pass.
// Substituted values are not scanned again. Unmatched names are returned as
// an ErrUnresolvedPlaceholder GraphError attributed to taskID.
func Render(taskID, template string, lookup Lookup) (string, error) {
	var missing []string
	seen := map[string]bool{}

	out := placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := token[1 : len(token)-1]
		if v, ok := lookup(name); ok {
			return v
		}
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
		return token
	})

	if len(missing) > 0 {
		return "", unresolvedError(taskID, missing)
	}
	return out, nil
}

// MapLookup returns a Lookup over a map.
func MapLookup(values map[string]string) Lookup {
	return func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}
}
