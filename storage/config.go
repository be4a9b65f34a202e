package storage

const (
	OptionVisibility          = "visibility"
	OptionDirectoryVisibility = "directory_visibility"
)

// Config is a read-only bag of per-call options. Extend returns a copy, the
// receiver is never modified.
type Config struct {
	options map[string]any
}

func NewConfig(options map[string]any) Config {
	copied := make(map[string]any, len(options))
	for k, v := range options {
		copied[k] = v
	}
	return Config{options: copied}
}

// Get returns the option stored under key, or def when it is absent or nil.
func (c Config) Get(key string, def any) any {
	v, ok := c.options[key]
	if !ok || v == nil {
		return def
	}
	return v
}

// String returns the option under key as a string. Non-string values yield def.
func (c Config) String(key, def string) string {
	switch v := c.Get(key, nil).(type) {
	case string:
		return v
	case Visibility:
		return string(v)
	default:
		return def
	}
}

// Visibility returns the option under key as a Visibility, or "" when unset.
func (c Config) Visibility(key string) Visibility {
	return Visibility(c.String(key, ""))
}

func (c Config) Extend(options map[string]any) Config {
	merged := make(map[string]any, len(c.options)+len(options))
	for k, v := range c.options {
		merged[k] = v
	}
	for k, v := range options {
		merged[k] = v
	}
	return Config{options: merged}
}
