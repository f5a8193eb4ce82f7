package tags

import (
	"strings"
	"testing"
)

func TestSanitizeSQLError(t *testing.T) {
	cases := []struct {
		msg  string
		want string
	}{
		{`Parser Error: syntax error at or near "SELEC"`, "SQL syntax error in rule condition"},
		{`Binder Error: Referenced column "descriptoin" not found`, "Invalid column or table reference in rule condition"},
		{`Invalid Input Error: something`, "Invalid input in rule condition"},
		{`Catalog Error: Scalar Function with name foo does not exist`, "Unknown function or table in rule condition"},
		{`could not compile regexp pattern`, "Invalid regex pattern in rule condition"},
		{`something else entirely`, "Rule condition failed to execute"},
	}
	for _, tc := range cases {
		if got := sanitizeSQLError(tc.msg); got != tc.want {
			t.Errorf("sanitizeSQLError(%q) = %q, want %q", tc.msg, got, tc.want)
		}
	}
}

func TestSanitizeNeverEchoesInput(t *testing.T) {
	// Engine messages can quote the rule's SQL, which may contain user
	// data. The sanitized form must never include it.
	secret := "description LIKE '%my-landlord%'"
	msg := "Weird Engine Error while running " + secret
	if got := sanitizeSQLError(msg); strings.Contains(got, "landlord") {
		t.Errorf("sanitized error leaked input: %q", got)
	}
}
