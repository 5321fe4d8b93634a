package natsbus

import "testing"

func TestSubject(t *testing.T) {
	tests := []struct {
		org, typ, want string
	}{
		{"org-1", "invitation.created", "gateway.org-1.invitation.created"},
		{"", "organization.created", "gateway._.organization.created"},
	}
	for _, tt := range tests {
		if got := Subject(tt.org, tt.typ); got != tt.want {
			t.Fatalf("Subject(%q, %q) = %q, want %q", tt.org, tt.typ, got, tt.want)
		}
	}
}
