package session

import (
	"strings"

	"gorm.io/datatypes"
)

// SessionID extracts the session identifier from the semi-structured
// conversation_context column. The pipeline writes it as a JSON string;
// anything else (absent key, null, wrong type, blank) is an explicit
// "absent" result, never an empty string that would group messages into
// a phantom session.
func SessionID(context datatypes.JSONMap) (string, bool) {
	if context == nil {
		return "", false
	}
	value, ok := context["session_id"]
	if !ok {
		return "", false
	}
	id, ok := value.(string)
	if !ok {
		return "", false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", false
	}
	return id, true
}
