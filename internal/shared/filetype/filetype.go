// Package filetype sniffs sample formats that matter to triage.
package filetype

import (
	"bytes"

	"github.com/gabriel-vasile/mimetype"
)

// Kind is a coarse executable classification.
type Kind int

const (
	Unknown Kind = iota
	ELF
	PE
	MachO
	Script
	Data
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case ELF:
		return "elf"
	case PE:
		return "pe"
	case MachO:
		return "macho"
	case Script:
		return "script"
	case Data:
		return "data"
	default:
		return "unknown"
	}
}

// Info is the result of sniffing a sample.
type Info struct {
	Kind      Kind
	MIME      string
	Extension string
	// Compat is set for 32-bit ELF objects, which run under the i386
	// syscall ABI on an x86-64 host.
	Compat bool
}

// Runnable reports whether the sample can be handed to execve directly.
func (i Info) Runnable() bool {
	return i.Kind == ELF || i.Kind == Script
}

// ELF identification bytes.
const (
	elfClassOffset = 4
	elfClass32     = 1
)

var machOMagics = [][]byte{
	{0xfe, 0xed, 0xfa, 0xce}, {0xce, 0xfa, 0xed, 0xfe},
	{0xfe, 0xed, 0xfa, 0xcf}, {0xcf, 0xfa, 0xed, 0xfe},
}

func isMachO(data []byte) bool {
	for _, m := range machOMagics {
		if bytes.HasPrefix(data, m) {
			return true
		}
	}
	return false
}

// Detect classifies data. Magic bytes win over the MIME tree so truncated
// headers are still recognized.
func Detect(data []byte) Info {
	m := mimetype.Detect(data)
	info := Info{MIME: m.String(), Extension: m.Extension(), Kind: Data}

	switch {
	case bytes.HasPrefix(data, []byte("\x7fELF")):
		info.Kind = ELF
		info.Compat = len(data) > elfClassOffset && data[elfClassOffset] == elfClass32
	case bytes.HasPrefix(data, []byte("MZ")):
		info.Kind = PE
	case isMachO(data):
		info.Kind = MachO
	case bytes.HasPrefix(data, []byte("#!")):
		info.Kind = Script
	case len(data) == 0:
		info.Kind = Unknown
	default:
		for mt := m; mt != nil; mt = mt.Parent() {
			switch {
			case mt.Is("application/x-elf"):
				info.Kind = ELF
			case mt.Is("application/vnd.microsoft.portable-executable"):
				info.Kind = PE
			case mt.Is("application/x-mach-binary"):
				info.Kind = MachO
			case mt.Is("text/x-shellscript"), mt.Is("text/x-python"), mt.Is("text/x-perl"):
				info.Kind = Script
			}
			if info.Kind != Data {
				break
			}
		}
	}
	return info
}
