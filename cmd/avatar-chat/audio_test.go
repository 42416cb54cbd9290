package main

import (
	"strings"
	"testing"
)

func TestMicFFmpegArgs(t *testing.T) {
	tests := []struct {
		goos      string
		wantInput string
		wantErr   bool
	}{
		{goos: "darwin", wantInput: "avfoundation"},
		{goos: "linux", wantInput: "pulse"},
		{goos: "windows", wantErr: true},
	}
	for _, tt := range tests {
		args, err := micFFmpegArgs(tt.goos)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tt.goos)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.goos, err)
		}
		joined := strings.Join(args, " ")
		if !strings.Contains(joined, tt.wantInput) {
			t.Fatalf("%s: args missing %q: %v", tt.goos, tt.wantInput, args)
		}
		if !strings.Contains(joined, "-f wav -") {
			t.Fatalf("%s: expected wav output to stdout: %v", tt.goos, args)
		}
	}
}
