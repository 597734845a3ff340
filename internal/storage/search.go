// Package storage holds helpers shared by the relational JobStore backends.
package storage

import "strings"

// LikeEscape is the escape character used by LikePattern.
const LikeEscape = `\`

var likeReplacer = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// LikePattern turns a free-text search into a lower-cased substring pattern
// for LIKE ... ESCAPE '\'. Wildcards in the input match literally.
func LikePattern(search string) string {
	return "%" + likeReplacer.Replace(strings.ToLower(strings.TrimSpace(search))) + "%"
}
