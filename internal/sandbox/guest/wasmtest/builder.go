// Package wasmtest assembles small WebAssembly binaries for tests.
package wasmtest

// ValType is a WebAssembly value type.
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
	F32 ValType = 0x7d
	F64 ValType = 0x7c
)

// Opcodes used by test bodies.
const (
	OpUnreachable byte = 0x00
	OpLoop        byte = 0x03
	OpBlockVoid   byte = 0x40
	OpEnd         byte = 0x0b
	OpBr          byte = 0x0c
	OpCall        byte = 0x10
	OpDrop        byte = 0x1a
	OpLocalGet    byte = 0x20
	OpI32Const    byte = 0x41
)

type funcType struct {
	params, results []ValType
}

type function struct {
	typ  int
	name string
	body []byte
}

type imported struct {
	module, name string
	typ          int
}

type segment struct {
	offset uint32
	data   []byte
}

// Module is a builder for a single-memory module.
type Module struct {
	types   []funcType
	imports []imported
	funcs   []function
	pages   uint32
	memName string
	hasMem  bool
	data    []segment
}

// New returns an empty module.
func New() *Module {
	return &Module{}
}

func (m *Module) addType(params, results []ValType) int {
	m.types = append(m.types, funcType{params: params, results: results})
	return len(m.types) - 1
}

// Import declares an imported function. Imports take the lowest function
// indices, in declaration order.
func (m *Module) Import(module, name string, params, results []ValType) *Module {
	m.imports = append(m.imports, imported{module: module, name: name, typ: m.addType(params, results)})
	return m
}

// Func appends a function. An empty name leaves it unexported. body holds
// instructions only; the trailing end is added.
func (m *Module) Func(name string, params, results []ValType, body ...byte) *Module {
	m.funcs = append(m.funcs, function{typ: m.addType(params, results), name: name, body: body})
	return m
}

// FuncIndex returns the absolute index of the n-th defined function.
func (m *Module) FuncIndex(n int) uint32 {
	return uint32(len(m.imports) + n)
}

// Memory declares the module's memory with minPages initial pages and
// exports it as name, unless name is empty.
func (m *Module) Memory(name string, minPages uint32) *Module {
	m.hasMem, m.pages, m.memName = true, minPages, name
	return m
}

// Data places b at offset in memory 0.
func (m *Module) Data(offset uint32, b []byte) *Module {
	m.data = append(m.data, segment{offset: offset, data: b})
	return m
}

// Bytes encodes the module.
func (m *Module) Bytes() []byte {
	out := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

	if len(m.types) > 0 {
		var s []byte
		s = append(s, U32(uint32(len(m.types)))...)
		for _, t := range m.types {
			s = append(s, 0x60)
			s = append(s, vec(t.params)...)
			s = append(s, vec(t.results)...)
		}
		out = section(out, 1, s)
	}

	if len(m.imports) > 0 {
		s := U32(uint32(len(m.imports)))
		for _, im := range m.imports {
			s = append(s, name(im.module)...)
			s = append(s, name(im.name)...)
			s = append(s, 0x00)
			s = append(s, U32(uint32(im.typ))...)
		}
		out = section(out, 2, s)
	}

	if len(m.funcs) > 0 {
		s := U32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			s = append(s, U32(uint32(f.typ))...)
		}
		out = section(out, 3, s)
	}

	if m.hasMem {
		s := []byte{0x01, 0x00}
		s = append(s, U32(m.pages)...)
		out = section(out, 5, s)
	}

	var exports []byte
	count := 0
	for i, f := range m.funcs {
		if f.name == "" {
			continue
		}
		exports = append(exports, name(f.name)...)
		exports = append(exports, 0x00)
		exports = append(exports, U32(m.FuncIndex(i))...)
		count++
	}
	if m.hasMem && m.memName != "" {
		exports = append(exports, name(m.memName)...)
		exports = append(exports, 0x02, 0x00)
		count++
	}
	if count > 0 {
		out = section(out, 7, append(U32(uint32(count)), exports...))
	}

	if len(m.funcs) > 0 {
		s := U32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			body := append([]byte{0x00}, f.body...)
			body = append(body, OpEnd)
			s = append(s, U32(uint32(len(body)))...)
			s = append(s, body...)
		}
		out = section(out, 10, s)
	}

	if len(m.data) > 0 {
		s := U32(uint32(len(m.data)))
		for _, d := range m.data {
			s = append(s, 0x00)
			s = append(s, I32Const(int32(d.offset))...)
			s = append(s, OpEnd)
			s = append(s, U32(uint32(len(d.data)))...)
			s = append(s, d.data...)
		}
		out = section(out, 11, s)
	}

	return out
}

// I32Const encodes an i32.const instruction.
func I32Const(v int32) []byte {
	return append([]byte{OpI32Const}, S32(v)...)
}

// Call encodes a call instruction.
func Call(idx uint32) []byte {
	return append([]byte{OpCall}, U32(idx)...)
}

// Concat joins instruction fragments.
func Concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// U32 is unsigned LEB128.
func U32(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

// S32 is signed LEB128.
func S32(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func section(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	out = append(out, U32(uint32(len(payload)))...)
	return append(out, payload...)
}

func vec(types []ValType) []byte {
	out := U32(uint32(len(types)))
	for _, t := range types {
		out = append(out, byte(t))
	}
	return out
}

func name(s string) []byte {
	return append(U32(uint32(len(s))), s...)
}
