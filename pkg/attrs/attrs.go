package attrs

import "fmt"

// ExtractString extracts a value from a slog-style key-value slice
// ([key1, value1, key2, value2, ...]) as a string. Strings are returned as-is
// and fmt.Stringer values (the typed snowflake ids) are rendered. Returns
// empty string if the key is absent or the value is neither.
func ExtractString(attrs []any, key string) string {
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok || k != key {
			continue
		}
		switch v := attrs[i+1].(type) {
		case string:
			return v
		case fmt.Stringer:
			return v.String()
		}
	}
	return ""
}
