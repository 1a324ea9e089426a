package validation

import (
	"testing"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"pro_9f86d081884c7d65", true},
		{"req_0123456789abcdef01234567", true},
		{"ulk_aabbccddeeff00112233", true},
		{"rfd_ABCdef123456789", true},

		// Invalid cases
		{"9f86d081884c7d65", false},       // No prefix
		{"pro-9f86d081884c7d65", false},   // Wrong separator
		{"professional_9f86d0", false},    // Prefix too long
		{"pro_", false},                   // No body
		{"pro_short", false},              // Body too short
		{"pro_has spaces in it", false},   // Invalid chars
		{"pro_has-dashes-in-body", false}, // Invalid chars
		{"", false},
	}

	for _, tc := range tests {
		result := IsValidID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{"joao@example.com", true},
		{"maria.silva@empresa.com.br", true},
		{"no-at-sign", false},
		{"two@@signs.com", false},
		{"@nodomain", false},
		{"", false},
	}

	for _, tc := range tests {
		result := IsValidEmail(tc.email)
		if result != tc.valid {
			t.Errorf("IsValidEmail(%q) = %v, want %v", tc.email, result, tc.valid)
		}
	}
}

func TestIsValidPhone(t *testing.T) {
	tests := []struct {
		phone string
		valid bool
	}{
		{"+5511999998888", true},
		{"11999998888", true},
		{"123", false},
		{"not-a-phone", false},
		{"", false},
	}

	for _, tc := range tests {
		result := IsValidPhone(tc.phone)
		if result != tc.valid {
			t.Errorf("IsValidPhone(%q) = %v, want %v", tc.phone, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	errors := Validate(
		Required("name", "Joao"),
		ValidID("requestId", "req_0123456789abcdef01234567"),
		ValidCoins("coins", 15),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	errors = Validate(
		Required("name", ""),
		ValidID("requestId", "not-an-id"),
		ValidCoins("coins", 0),
	)
	if len(errors) != 3 {
		t.Errorf("Expected 3 errors, got %d: %v", len(errors), errors)
	}
}

func TestMaxLength(t *testing.T) {
	if err := MaxLength("reason", "short", 10)(); err != nil {
		t.Errorf("Expected no error for short value, got %v", err)
	}
	if err := MaxLength("reason", "this is far too long", 10)(); err == nil {
		t.Error("Expected error for long value")
	}
}
