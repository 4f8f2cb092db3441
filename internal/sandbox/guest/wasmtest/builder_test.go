package wasmtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLEB128(t *testing.T) {
	assert.Equal(t, []byte{0x00}, U32(0))
	assert.Equal(t, []byte{0xe5, 0x8e, 0x26}, U32(624485))
	assert.Equal(t, []byte{0x7f}, S32(-1))
	assert.Equal(t, []byte{0xc0, 0x00}, S32(64))
	assert.Equal(t, []byte{0x80, 0x08}, S32(1024))
}

func TestEmptyModule(t *testing.T) {
	assert.Equal(t, []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}, New().Bytes())
}

func TestFuncIndexCountsImports(t *testing.T) {
	m := New().Import("env", "log", []ValType{I32}, nil).Func("f", nil, nil)
	assert.Equal(t, uint32(1), m.FuncIndex(0))
}
