package plugin

// Typed accessors for the free-form settings block of a plugin Spec.
// YAML decodes scalars as string/int/bool; anything else falls back to the
// default.

// StringSetting returns settings[key] as a string, or def.
func StringSetting(settings map[string]any, key, def string) string {
	if v, ok := settings[key].(string); ok {
		return v
	}
	return def
}

// IntSetting returns settings[key] as an int, or def.
func IntSetting(settings map[string]any, key string, def int) int {
	if v, ok := settings[key].(int); ok {
		return v
	}
	return def
}

// BoolSetting returns settings[key] as a bool, or def.
func BoolSetting(settings map[string]any, key string, def bool) bool {
	if v, ok := settings[key].(bool); ok {
		return v
	}
	return def
}
