package models

import "strings"

// User is a registered end user as declared in the user source.
// Password holds the encoded credential, e.g. "{bcrypt}$2a$..." or "{noop}secret".
type User struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Roles    string `json:"roles" yaml:"roles"`
}

// RoleList splits the comma-separated role string, dropping blanks
func (u User) RoleList() []string {
	return SplitList(u.Roles)
}

// SplitList splits a comma-separated declarative value into trimmed, non-empty items
func SplitList(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
