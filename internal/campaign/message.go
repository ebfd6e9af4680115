package campaign

import (
	"strings"

	"github.com/disparo-io/disparo/internal/db"
)

// MarkerPrefix is prepended to every campaign message body. The zero-width
// non-joiner is invisible to recipients but lets the receiving side tell
// campaign traffic apart from ordinary conversation.
const MarkerPrefix = "‌ "

// BuildMessage substitutes contact placeholders and tenant variables into a
// message template. Contact placeholders are fixed ({nome}, {email},
// {numero}); tenant variables substitute their own {key} tokens. Unknown
// tokens pass through untouched.
func BuildMessage(template string, contact *db.ContactListItem, vars []Variable) string {
	msg := template
	msg = strings.ReplaceAll(msg, "{nome}", contact.Name)
	msg = strings.ReplaceAll(msg, "{email}", contact.Email)
	msg = strings.ReplaceAll(msg, "{numero}", contact.Number)
	for _, v := range vars {
		msg = strings.ReplaceAll(msg, "{"+v.Key+"}", v.Value)
	}
	return msg
}
