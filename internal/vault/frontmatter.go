package vault

import (
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontMatterFence = "---"

// splitFrontMatter separates a leading YAML front matter block from the body.
// Parsing is fail-open: malformed YAML yields an empty map and the body is
// treated as starting at byte zero. Parse failures are logged at debug level.
func splitFrontMatter(path, content string) (map[string]any, string) {
	if !strings.HasPrefix(content, frontMatterFence+"\n") &&
		!strings.HasPrefix(content, frontMatterFence+"\r\n") {
		return map[string]any{}, content
	}

	// Find the closing fence on its own line.
	rest := content[len(frontMatterFence):]
	rest = strings.TrimPrefix(rest, "\r")
	rest = strings.TrimPrefix(rest, "\n")

	end := -1
	if strings.HasPrefix(rest, frontMatterFence+"\n") || strings.HasPrefix(rest, frontMatterFence+"\r\n") || rest == frontMatterFence {
		end = 0
	} else {
		for _, marker := range []string{"\n---\n", "\n---\r\n"} {
			if i := strings.Index(rest, marker); i >= 0 {
				end = i + 1
				break
			}
		}
		if end < 0 && strings.HasSuffix(rest, "\n"+frontMatterFence) {
			end = len(rest) - len(frontMatterFence)
		}
	}
	if end < 0 {
		// Unterminated fence: treat the whole file as body.
		return map[string]any{}, content
	}

	raw := rest[:end]
	body := strings.TrimLeft(rest[end+len(frontMatterFence):], "\r\n")

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(raw), &fm); err != nil {
		slog.Debug("front_matter_parse_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return map[string]any{}, content
	}
	if fm == nil {
		fm = map[string]any{}
	}
	return normalizeFrontMatter(fm), body
}

// normalizeFrontMatter coerces scalar shapes so downstream code sees strings
// where the corpus convention expects them. Integer-looking tag values become
// strings ("2024" stays a tag, not an int).
func normalizeFrontMatter(fm map[string]any) map[string]any {
	if tags, ok := fm["tags"]; ok {
		fm["tags"] = coerceStringList(tags)
	}
	if typ, ok := fm["type"]; ok {
		switch v := typ.(type) {
		case []any:
			fm["type"] = coerceStringList(v)
		default:
			fm["type"] = scalarString(v)
		}
	}
	for _, key := range []string{"description", "status", "gleaning_id", "title"} {
		if v, ok := fm[key]; ok {
			fm[key] = scalarString(v)
		}
	}
	return fm
}

// coerceStringList turns a scalar or list front matter value into []string.
func coerceStringList(v any) []string {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s := scalarString(item)
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	case nil:
		return nil
	default:
		s := scalarString(val)
		if s == "" {
			return nil
		}
		return []string{s}
	}
}

// scalarString renders a YAML scalar as a string.
func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

// StringValue returns fm[key] as a string, or "" when absent.
func StringValue(fm map[string]any, key string) string {
	if fm == nil {
		return ""
	}
	return scalarString(fm[key])
}

// StringList returns fm[key] as a string list, or nil when absent.
func StringList(fm map[string]any, key string) []string {
	if fm == nil {
		return nil
	}
	v, ok := fm[key]
	if !ok {
		return nil
	}
	return coerceStringList(v)
}
