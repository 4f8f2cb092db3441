package native

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/elastic/go-seccomp-bpf"
	"github.com/elastic/go-seccomp-bpf/arch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"
)

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultPolicyValid(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())
	assert.True(t, p.Denies("mount"))
	assert.True(t, p.Denies("setuid"))
	assert.False(t, p.Denies("read"))
	assert.False(t, p.Denies("connect"))
}

func TestLoadPolicyOverrides(t *testing.T) {
	p, err := LoadPolicy(writePolicy(t, `
default: deny
deny:
  - mount
  - reboot
`))
	require.NoError(t, err)
	assert.Equal(t, ActionDeny, p.Default)
	assert.Equal(t, []string{"mount", "reboot"}, p.Deny)
	assert.Equal(t, DefaultPolicy().Allow, p.Allow, "absent lists keep defaults")

	assert.True(t, p.Denies("setuid"), "unlisted falls to default deny")
	assert.False(t, p.Denies("read"))
}

func TestLoadPolicyTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
default = "allow"
log = ["connect", "execve"]
`), 0o644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, ActionAllow, p.Default)
	assert.Equal(t, []string{"connect", "execve"}, p.Log)
	assert.Equal(t, DefaultPolicy().Deny, p.Deny)

	require.NoError(t, os.WriteFile(path, []byte("default = \n"), 0o644))
	_, err = LoadPolicy(path)
	assert.Error(t, err)
}

func TestLoadPolicyErrors(t *testing.T) {
	tests := map[string]string{
		"bad action": "default: maybe\n",
		"conflict":   "allow: [mount]\n",
		"bad yaml":   "allow: [read\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadPolicy(writePolicy(t, body))
			assert.Error(t, err)
		})
	}
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPolicyFilter(t *testing.T) {
	f, err := DefaultPolicy().Filter()
	require.NoError(t, err)
	assert.True(t, f.NoNewPrivs)
	assert.Equal(t, seccomp.ActionLog, f.Policy.DefaultAction)

	actions := map[seccomp.Action][]string{}
	for _, g := range f.Policy.Syscalls {
		assert.NotEqual(t, f.Policy.DefaultAction, g.Action, "groups matching the default are omitted")
		actions[g.Action] = append(actions[g.Action], g.Names...)
	}
	assert.Contains(t, actions[seccomp.ActionErrno], "mount")
	assert.Contains(t, actions[seccomp.ActionAllow], "read")

	p := DefaultPolicy()
	p.Deny = append(p.Deny, "not_a_syscall")
	f, err = p.Filter()
	require.NoError(t, err)
	for _, g := range f.Policy.Syscalls {
		assert.NotContains(t, g.Names, "not_a_syscall")
	}
}

// seccompData lays out the nr and arch words of seccomp_data the way the
// bpf VM loads them.
func seccompData(a arch.AuditArch, nr int) []byte {
	b := make([]byte, 64)
	binary.BigEndian.PutUint32(b[0:], uint32(nr))
	binary.BigEndian.PutUint32(b[4:], uint32(a))
	return b
}

func TestCompatFilter(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("compat filter is x86-64 only")
	}
	prog, err := DefaultPolicy().CompatFilter()
	require.NoError(t, err)
	vm, err := bpf.NewVM(prog)
	require.NoError(t, err)

	allow := int(seccomp.ActionAllow)
	deny := int(uint32(seccomp.ActionErrno) | errnoEPERM)
	tests := []struct {
		name string
		arch *arch.Info
		call string
		want int
	}{
		{"i386 mount denied", arch.I386, "mount", deny},
		{"i386 setuid32 denied", arch.I386, "setuid32", deny},
		{"i386 setuid denied", arch.I386, "setuid", deny},
		{"i386 open passes", arch.I386, "open", allow},
		{"i386 socketcall passes", arch.I386, "socketcall", allow},
		{"native mount left to main filter", arch.X86_64, "mount", allow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nr, ok := tt.arch.SyscallNames[tt.call]
			require.True(t, ok)
			got, err := vm.Run(seccompData(tt.arch.ID, nr))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	p := DefaultPolicy()
	p.Deny = nil
	prog, err = p.CompatFilter()
	require.NoError(t, err)
	vm, err = bpf.NewVM(prog)
	require.NoError(t, err)
	got, err := vm.Run(seccompData(arch.I386.ID, arch.I386.SyscallNames["mount"]))
	require.NoError(t, err)
	assert.Equal(t, allow, got, "empty deny list denies nothing")
}
