// Package avatar builds profile picture URLs on an external avatar service.
package avatar

import (
	"net/url"
	"strings"

	"github.com/dukerupert/notez/internal/model"
)

// URL returns the avatar for username. Male and female users get the
// service's gendered variants; everyone else gets the neutral one.
func URL(base, username string, gender model.Gender) string {
	base = strings.TrimRight(base, "/")
	switch gender {
	case model.GenderMale:
		base += "/boy"
	case model.GenderFemale:
		base += "/girl"
	}
	return base + "?username=" + url.QueryEscape(username)
}
