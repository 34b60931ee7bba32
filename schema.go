package cassblob

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed schema.cql
var schemaCql string

var schemaTemplate = template.Must(template.New("schema").Parse(schemaCql))

// Returns the CQL statements creating the blob tables in keyspace, one statement per element.
func SchemaCQL(keyspace string) (ret []string, err error) {
	if !keyspaceRegexp.MatchString(keyspace) {
		err = fmt.Errorf("invalid keyspace %q", keyspace)
		return
	}
	var sb strings.Builder
	err = schemaTemplate.Execute(&sb, keyspace)
	if err != nil {
		return
	}
	for _, s := range strings.Split(sb.String(), ";") {
		s = strings.TrimSpace(s)
		if s != "" {
			ret = append(ret, s)
		}
	}
	return
}

const (
	selectFlagsLargePartsCql = "SELECT flags, large_parts FROM %s.entity WHERE ent = ?"
	updateFlagsCql           = "UPDATE %s.entity SET flags = ? WHERE ent = ?"
	insertEntityCql          = "INSERT INTO %s.entity (ent, modified, size, flags, large_parts, data) VALUES (?, ?, ?, ?, ?, ?)"
	insertLargeEntityCql     = "INSERT INTO %s.largeentity (ent, local_id, data) VALUES (?, ?, ?)"
	deleteLargeEntityCql     = "DELETE FROM %s.largeentity WHERE ent = ? AND local_id = ?"
	deleteEntityCql          = "DELETE FROM %s.entity WHERE ent = ?"
)

func (t *taskBase) cql(format string) string {
	return fmt.Sprintf(format, t.opts.Keyspace)
}
