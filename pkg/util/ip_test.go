package util

import "testing"

func TestExtractIPv4s(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"none", "kernel: link up on ether1", nil},
		{"single", "login failure for user admin from 10.0.0.5 via ssh", []string{"10.0.0.5"}},
		{
			"pair with ports",
			"input: in:ether1 out:(unknown 0), proto TCP (SYN), 192.168.1.100:12345->192.168.88.1:80, len 52",
			[]string{"192.168.1.100", "192.168.88.1"},
		},
		{"rejects out of range", "bad addr 999.1.1.1 then 8.8.8.8", []string{"8.8.8.8"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractIPv4s(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractIPv4s(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ExtractIPv4s(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestValidIP(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"8.8.8.8", true},
		{"2001:db8::1", true},
		{"", false},
		{"not-an-ip", false},
		{"300.1.1.1", false},
	}

	for _, tt := range tests {
		if got := ValidIP(tt.input); got != tt.want {
			t.Errorf("ValidIP(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
