package confwriter

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Supported configuration file formats.
const (
	FormatNamelist = "nml"
	FormatText     = "txt"
)

// Apply edits the configuration file at path, updating every key from
// params that the file defines. Namelist files have matching assignments
// rewritten in place regardless of which group holds them; text files get
// "#override KEY=value" lines appended.
func Apply(params map[string]any, path, format string) error {
	switch format {
	case FormatNamelist:
		return applyNamelist(params, path)
	case FormatText:
		return applyOverrides(params, path)
	default:
		return fmt.Errorf("unsupported configuration file format %q", format)
	}
}

// assignRe matches "key = value" assignment lines, keeping indentation and
// any trailing comma intact.
var assignRe = regexp.MustCompile(`^(\s*)([A-Za-z]\w*)(\s*=\s*)(.*?)(,?\s*)$`)

func applyNamelist(params map[string]any, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read namelist: %w", err)
	}

	// Fortran namelists are case-insensitive.
	lower := make(map[string]any, len(params))
	for k, v := range params {
		lower[strings.ToLower(k)] = v
	}

	// Keys absent from the file are ignored, matching the recursive
	// update behavior of the namelist tooling this replaces.
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		m := assignRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		v, ok := lower[strings.ToLower(m[2])]
		if !ok {
			continue
		}
		lines[i] = m[1] + m[2] + m[3] + formatValue(v) + m[5]
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

func applyOverrides(params map[string]any, path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, err := fmt.Fprintf(f, "#override %s=%v\n", k, params[k]); err != nil {
			return fmt.Errorf("failed to append override: %w", err)
		}
	}
	return nil
}

// formatValue renders a parameter in namelist syntax. Strings that are not
// already quoted gain single quotes; booleans use Fortran literals.
func formatValue(v any) string {
	switch val := v.(type) {
	case bool:
		if val {
			return ".true."
		}
		return ".false."
	case string:
		if strings.HasPrefix(val, "'") || strings.HasPrefix(val, `"`) {
			return val
		}
		return "'" + val + "'"
	default:
		return fmt.Sprintf("%v", val)
	}
}
