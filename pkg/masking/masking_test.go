package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhone(t *testing.T) {
	assert.Equal(t, "55*********66", Phone("+55 11 99988-7766"))
	assert.Equal(t, "***", Phone("123"))
	assert.Equal(t, "***", Phone(""))
}

func TestText(t *testing.T) {
	masked := Text("me chama no +55 11 99988-7766 por favor", 0)
	assert.NotContains(t, masked, "99988")
	assert.Contains(t, masked, "me chama no")

	long := Text("abcdefghij", 5)
	assert.Equal(t, "abcde…", long)
}
