package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"
)

func TestSessionID(t *testing.T) {
	cases := []struct {
		name    string
		context datatypes.JSONMap
		want    string
		ok      bool
	}{
		{"nil map", nil, "", false},
		{"missing key", datatypes.JSONMap{"other": "x"}, "", false},
		{"null value", datatypes.JSONMap{"session_id": nil}, "", false},
		{"numeric value", datatypes.JSONMap{"session_id": 42.0}, "", false},
		{"blank string", datatypes.JSONMap{"session_id": "   "}, "", false},
		{"valid", datatypes.JSONMap{"session_id": "abc-123"}, "abc-123", true},
		{"padded", datatypes.JSONMap{"session_id": " abc-123 "}, "abc-123", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := SessionID(tc.context)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
