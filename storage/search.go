package storage

import "strings"

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern matches q literally anywhere in a value. Queries using it
// must declare ESCAPE '\'.
func likePattern(q string) string {
	return "%" + likeEscaper.Replace(q) + "%"
}
