package delivery

import (
	"regexp"
	"strings"
)

// emailPattern is a shape check, not RFC 5322 validation: something before
// an @, something after, and a dot in the domain.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ParseRecipients trims and validates a recipient list. Invalid-looking
// addresses are silently dropped; callers detect this by comparing the
// summary total against the input count.
func ParseRecipients(input []string) []string {
	valid := make([]string, 0, len(input))
	for _, addr := range input {
		addr = strings.TrimSpace(addr)
		if emailPattern.MatchString(addr) {
			valid = append(valid, addr)
		}
	}
	return valid
}

// SplitRecipients parses a comma-separated recipient string, applying the
// same validation as ParseRecipients.
func SplitRecipients(input string) []string {
	return ParseRecipients(strings.Split(input, ","))
}

// InferName derives a display name from the local part of an address:
// "first.last@x.com" becomes "First Last". Dots, underscores, and hyphens
// are treated as word separators.
func InferName(email string) string {
	localPart, _, _ := strings.Cut(email, "@")

	words := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
	}
	return strings.Join(words, " ")
}
