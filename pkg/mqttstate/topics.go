package mqttstate

import "strings"

// Topics builds the topic names for a prefix such as "epson"
type Topics struct {
	Prefix string
}

func (t Topics) join(parts ...string) string {
	prefix := strings.Trim(t.Prefix, "/")
	if prefix == "" {
		return strings.Join(parts, "/")
	}
	return prefix + "/" + strings.Join(parts, "/")
}

// Status carries the bridge's online/offline state
func (t Topics) Status() string {
	return t.join("status")
}

// Power carries the retained power code of one entry
func (t Topics) Power(entryID string) string {
	return t.join(entryID, "power")
}

// Set accepts ON and OFF commands for one entry
func (t Topics) Set(entryID string) string {
	return t.join(entryID, "set")
}
