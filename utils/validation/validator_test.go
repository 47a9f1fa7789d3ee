package validation

import "testing"

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Intro to Backend Development with Go", "intro-to-backend-development-with-go"},
		{"  Spaces  Everywhere  ", "spaces-everywhere"},
		{"C++ & Systems Programming!", "c-systems-programming"},
		{"already-a-slug", "already-a-slug"},
		{"UPPER Case 101", "upper-case-101"},
		{"!!!", ""},
	}
	for _, tc := range cases {
		if got := Slugify(tc.in); got != tc.want {
			t.Errorf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidateEmail(t *testing.T) {
	valid := []string{"user@example.com", "first.last+tag@sub.domain.org"}
	for _, email := range valid {
		if !ValidateEmail(email) {
			t.Errorf("expected %q to be valid", email)
		}
	}

	invalid := []string{"", "nope", "missing@tld", "@example.com"}
	for _, email := range invalid {
		if ValidateEmail(email) {
			t.Errorf("expected %q to be invalid", email)
		}
	}
}
