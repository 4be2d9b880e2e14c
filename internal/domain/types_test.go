package domain

import "testing"

func TestUser_HasEmailAndPhone(t *testing.T) {
	tests := []struct {
		name  string
		email *string
		phone *string
		want  bool
	}{
		{"both", StringPtr("a@a.com"), StringPtr("123"), true},
		{"email only", StringPtr("a@a.com"), nil, false},
		{"phone only", nil, StringPtr("123"), false},
		{"neither", nil, nil, false},
		{"empty strings count as set", StringPtr(""), StringPtr(""), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &User{Email: tt.email, Phone: tt.phone}
			if got := u.HasEmailAndPhone(); got != tt.want {
				t.Errorf("HasEmailAndPhone() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUser_String(t *testing.T) {
	tests := []struct {
		name string
		user User
		want string
	}{
		{"both", User{Email: StringPtr("a@a.com"), Phone: StringPtr("123")}, "User: a@a.com / 123"},
		{"email only", User{Email: StringPtr("a@a.com")}, "User: a@a.com / N/A"},
		{"phone only", User{Phone: StringPtr("123")}, "User: N/A / 123"},
		{"blank email", User{Email: StringPtr(""), Phone: StringPtr("123")}, "User: N/A / 123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
