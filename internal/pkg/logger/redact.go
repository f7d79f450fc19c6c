package logger

import (
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"; local parts of two or fewer
// characters are fully masked.
func RedactEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "***@***"
	}
	local, dom := email[:at], email[at+1:]
	if len(local) > 2 {
		return local[:2] + "***@" + dom
	}
	return "***@" + dom
}

// redactValue masks emails in a field value. Fields whose keys suggest they
// hold addresses are always masked; other fields are scanned for embedded
// addresses.
func redactValue(key, val string) string {
	k := strings.ToLower(key)
	if strings.Contains(k, "email") || strings.Contains(k, "contact") {
		if strings.Contains(val, "@") {
			return RedactEmail(val)
		}
		return val
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
