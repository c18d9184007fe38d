package main

import (
	"errors"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/pgnstream/runtime"
)

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{
			name:     "exit code 0 no message",
			err:      cli.Exit("", 0),
			wantCode: 0,
			wantMsg:  "",
		},
		{
			name:     "resolve failure",
			err:      cli.Exit("resolve: archive not found", runtime.ExitCodeResolve),
			wantCode: 1,
			wantMsg:  "resolve: archive not found",
		},
		{
			name:     "transfer failure",
			err:      cli.Exit("fetch at offset 4096: transfer error", runtime.ExitCodeTransfer),
			wantCode: 2,
			wantMsg:  "fetch at offset 4096: transfer error",
		},
		{
			name:     "decode failure without message",
			err:      cli.Exit("", runtime.ExitCodeDecode),
			wantCode: 3,
			wantMsg:  "",
		},
		{
			name:     "usage",
			err:      cli.Exit("--archive (YYYY-MM) or --url is required", runtime.ExitCodeUsage),
			wantCode: 64,
			wantMsg:  "--archive (YYYY-MM) or --url is required",
		},
		{
			name:     "canceled",
			err:      cli.Exit("canceled: context canceled", runtime.ExitCodeCancelled),
			wantCode: 130,
			wantMsg:  "canceled: context canceled",
		},
		{
			name:     "wrapped exit coder",
			err:      errors.Join(errors.New("context"), cli.Exit("inner error", 42)),
			wantCode: 42,
			wantMsg:  "inner error",
		},
		{
			name:     "regular error",
			err:      errors.New("boom"),
			wantCode: 1,
			wantMsg:  "Error: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := exitStatus(tt.err)
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if msg != tt.wantMsg {
				t.Errorf("msg = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}

func TestExitErrHandler_NilError(_ *testing.T) {
	// Should not panic or exit on nil error
	exitErrHandler(nil, nil)
}
