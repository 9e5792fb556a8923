package collect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatFlags(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"process none", FormatProcessFlags(0), "( NONE )"},
		{"process wow64 package", FormatProcessFlags(0x3), "0x3 ( WOW64 | PACKAGEFULLNAME )"},
		{"process unknown bit", FormatProcessFlags(0x10), "0x10 ( )"},
		{"create options masked", FormatCreateOptions(0x01000080), "0x80 ( FILE_ATTRIBUTE_NORMAL )"},
		{"irp read nocache", FormatIrpFlags(0x101), "0x101 ( Nocache | Read )"},
		{"disposition", FormatCreateDisposition(1), "0x1 ( OPEN_EXISTING )"},
		{"disposition unknown", FormatCreateDisposition(9), "0x9 ( unknown )"},
		{"priority", FormatIOPriority(3), "0x3 ( NORMAL )"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestIOPriorityOf(t *testing.T) {
	assert.Equal(t, uint32(0), IOPriorityOf(0x101))
	assert.Equal(t, uint32(2), IOPriorityOf(2<<17|0x101))
	assert.Equal(t, uint32(7), IOPriorityOf(0xffffffff))
}
