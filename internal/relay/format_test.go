package relay

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/iksnae/claude-relay/internal"
)

func TestFormatResult(t *testing.T) {
	addr := internal.Address{ServerID: "kr4", ServerNumber: 1}
	partial := &internal.DispatchResult{Stdout: "partial", ExitCode: -1}

	tests := []struct {
		name   string
		result *internal.DispatchResult
		err    error
		want   []string
		absent []string
	}{
		{
			name:   "success",
			result: &internal.DispatchResult{Stdout: "hello\n", Duration: 20 * time.Millisecond},
			want:   []string{"✅ kr4:1 exit 0", "\nSession: kr4:1\n$ echo hello\n", "hello\n"},
			absent: []string{"stderr:", "(no output)"},
		},
		{
			name:   "success without output",
			result: &internal.DispatchResult{},
			want:   []string{"✅ kr4:1 exit 0", "(no output)"},
		},
		{
			name:   "non-zero exit",
			result: &internal.DispatchResult{Stderr: "boom", ExitCode: 3},
			err:    &internal.DispatchError{Kind: internal.ErrNonZeroExit, Target: "kr4", ExitCode: 3},
			want:   []string{"❌ kr4:1 exit 3", "stderr:\nboom\n"},
		},
		{
			name: "timed out result carried on error",
			err:  &internal.DispatchError{Kind: internal.ErrTimedOut, Target: "kr4", Result: partial},
			want: []string{"⏱ kr4:1 timed out", "partial"},
		},
		{
			name: "unreachable",
			err:  &internal.DispatchError{Kind: internal.ErrUnreachableHost, Target: "gpu1", Err: errors.New("connection refused")},
			want: []string{"🔌 kr4:1 unreachable: connection refused"},
		},
		{
			name:   "truncated",
			result: &internal.DispatchResult{Stdout: "aaaa", Truncated: true},
			want:   []string{"[output truncated]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatResult(addr, "echo hello", tt.result, tt.err)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("missing %q in:\n%s", w, got)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(got, a) {
					t.Errorf("unexpected %q in:\n%s", a, got)
				}
			}
		})
	}
}

func TestFormatResult_ReplyContinuesSession(t *testing.T) {
	addr := internal.Address{ServerID: "gpu1", ServerNumber: 12}
	text := FormatResult(addr, "nvidia-smi", &internal.DispatchResult{Stdout: "ok\n"}, nil)

	cmd := ParseCommand("df -h", text)
	if cmd.Kind != CommandDispatch || cmd.Address != addr || cmd.Command != "df -h" {
		t.Errorf("reply to a result = %+v, want dispatch to gpu1:12", cmd)
	}
}

func TestFormatServers(t *testing.T) {
	if got := FormatServers(nil); got != "No servers configured." {
		t.Errorf("FormatServers(nil) = %q", got)
	}

	got := FormatServers([]internal.ServerEntry{
		{ID: "kr4", Alias: "Workstation", Type: internal.ServerLocal},
		{ID: "gpu1", Type: internal.ServerRemote, Hostname: "10.0.0.5", SSH: &internal.SSHConfig{User: "ops", Port: 2222}},
	})
	for _, want := range []string{"2 configured", "kr4 (Workstation) local", "gpu1 (gpu1) remote ops@10.0.0.5:2222"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}
