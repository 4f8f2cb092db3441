package native

import (
	"context"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	MaybeRunInit()
	os.Exit(m.Run())
}

func TestLauncherLive(t *testing.T) {
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("native sandbox requires linux/amd64")
	}
	if testing.Short() {
		t.Skip("live sandbox run")
	}
	cfg := DefaultConfig()
	cfg.Timeout = 3 * time.Second
	a, err := NewAnalyzer(cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	m := a.Analyze(context.Background(), []byte("#!/bin/sh\nexec /bin/true\n"), "hello.sh", 0)
	if m.Degraded && strings.Contains(m.Reason, ErrLaunch.Error()) {
		t.Skipf("namespaces unavailable: %s", m.Reason)
	}
	assert.False(t, m.Degraded, m.Reason)
	assert.False(t, m.TimedOut)
	assert.Zero(t, m.ExitCode)
	assert.LessOrEqual(t, m.ThreatScore, float32(1))
}
