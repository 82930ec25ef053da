package rootbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAskForConfirmation(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"\n", true},
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"No\n", false},
		{"maybe\nyes\n", true},
		{"", false},
		{"n", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			assert.Equal(t, tt.want, askForConfirmation(strings.NewReader(tt.input), nil, "Proceed?"))
		})
	}
}
