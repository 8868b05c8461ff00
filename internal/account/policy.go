package account

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dukerupert/notez/internal/model"
)

const (
	minUsernameLen = 4
	maxUsernameLen = 10
	minPasswordLen = 6
	// bcrypt refuses longer input.
	maxPasswordBytes = 72
)

const (
	msgRequired       = "This field is required."
	msgFirstName      = "Must provide first name."
	msgUsernameLength = "Username must be between 4 and 10 characters long."
	msgUsernameReserv = "This username is reserved, choose another."
	msgUsernameFormat = "Username must start with a letter and contain only letters and numbers."
	msgEmailInvalid   = "Invalid email address."
	msgPasswordMatch  = "Field must be equal to password."
	msgGenderInvalid  = "Not a valid choice."
)

var reservedUsernames = map[string]bool{
	"admin":    true,
	"root":     true,
	"support":  true,
	"help":     true,
	"api":      true,
	"auth":     true,
	"login":    true,
	"register": true,
}

var usernamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]*$`)

// UsernameProblem returns the first policy rule username breaks, or "" if it
// is acceptable.
func UsernameProblem(username string) string {
	if n := utf8.RuneCountInString(username); n < minUsernameLen || n > maxUsernameLen {
		return msgUsernameLength
	}
	if reservedUsernames[strings.ToLower(username)] {
		return msgUsernameReserv
	}
	if !usernamePattern.MatchString(username) {
		return msgUsernameFormat
	}
	return ""
}

// PasswordProblems lists every strength rule password breaks.
func PasswordProblems(password string) []string {
	var out []string
	if utf8.RuneCountInString(password) < minPasswordLen {
		out = append(out, "Password must be at least 6 characters long.")
	}
	if len(password) > maxPasswordBytes {
		out = append(out, "Password must be at most 72 bytes long.")
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r):
			special = true
		}
	}
	if !upper {
		out = append(out, "Password must contain at least one uppercase letter.")
	}
	if !lower {
		out = append(out, "Password must contain at least one lowercase letter.")
	}
	if !digit {
		out = append(out, "Password must contain at least one number.")
	}
	if !special {
		out = append(out, "Password must contain at least one special character.")
	}
	return out
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (in *RegisterInput) normalize() {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.Gender = strings.ToLower(strings.TrimSpace(in.Gender))
}

func (in RegisterInput) validate() error {
	ve := &model.ValidationError{}

	if in.FirstName == "" {
		ve.Add("first_name", msgFirstName)
	}

	if in.Username == "" {
		ve.Add("username", msgRequired)
	} else if msg := UsernameProblem(in.Username); msg != "" {
		ve.Add("username", msg)
	}

	if in.Email == "" {
		ve.Add("email", msgRequired)
	} else if !validEmail(in.Email) {
		ve.Add("email", msgEmailInvalid)
	}

	if in.Password == "" {
		ve.Add("password", msgRequired)
	} else {
		for _, msg := range PasswordProblems(in.Password) {
			ve.Add("password", msg)
		}
	}
	if in.Password2 != nil && *in.Password2 != in.Password {
		ve.Add("password2", msgPasswordMatch)
	}

	if in.Gender != "" && !model.Gender(in.Gender).Valid() {
		ve.Add("gender", msgGenderInvalid)
	}
	return ve.Err()
}
