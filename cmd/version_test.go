package cmd

import (
	"io"
	"os"
	"testing"

	"github.com/dctoing3-dot/pandu/pandu"
	"github.com/stretchr/testify/assert"
)

func TestVersionCommand(t *testing.T) {
	// each ldflags-injected var must show up in the printed line
	buildVars := []struct {
		target *string
		value  string
	}{
		{&pandu.Version, "2.4.0"},
		{&pandu.CommitSHA, "f00dfeed"},
		{&pandu.BuildTime, "2026-08-28T09:30:00Z"},
	}
	for _, v := range buildVars {
		target := v.target
		orig := *target
		t.Cleanup(func() { *target = orig })
		*target = v.value
	}

	origStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(func() { os.Stdout = origStdout })

	versionCmd.Run(nil, nil)
	_ = w.Close()

	out, _ := io.ReadAll(r)
	assert.Equal(
		t,
		"version=2.4.0 commit=f00dfeed built: 2026-08-28T09:30:00Z",
		string(out),
	)
}
