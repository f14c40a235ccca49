package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeModelJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"Sure! {\"a\": 1} hope this helps", `{"a": 1}`},
		{"{\"a\": 1, /* note */ \"b\": 2,}", `{"a": 1,  "b": 2}`},
		{"{\n// comment\n\"a\": 1\n}", "{\n\n\"a\": 1\n}"},
		{"no json here", "no json here"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeModelJSON(tt.in))
	}
}

func TestStatusError(t *testing.T) {
	assert.Equal(t, "API Error: 503 - loading", (&StatusError{StatusCode: 503, Body: "loading"}).Error())
	assert.Equal(t, "API Error: 500", (&StatusError{StatusCode: 500}).Error())
}
