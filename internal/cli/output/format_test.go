package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "0B", HumanSize(0))
	assert.Equal(t, "512B", HumanSize(512))
	assert.Equal(t, "1.0K", HumanSize(1024))
	assert.Equal(t, "1.5M", HumanSize(3*512*1024))
	assert.Equal(t, "2.0G", HumanSize(2*1024*1024*1024))
}

func TestBool(t *testing.T) {
	assert.Equal(t, "yes", Bool(true))
	assert.Equal(t, "no", Bool(false))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	PrintTable(&buf, []string{"Name", "Size"}, [][]string{
		{"f1", "12B"},
		{"f2", "1.0K"},
	})
	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "f1")
	assert.Contains(t, out, "1.0K")
}
