package users

import "github.com/andyleap/authsessions/internal/models"

// RedactedPassword stands in for the credential on display paths
const RedactedPassword = "*****"

// ToPublicView returns u with its credential replaced by RedactedPassword
func ToPublicView(u models.User) models.User {
	u.Password = RedactedPassword
	return u
}
