package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/loykin/teacupreport/internal/store"
)

// SchemaName is the catalog every table lives in. SQLite has no schemas
// and keeps the tables in the main database.
const SchemaName = "teacup_report"

const (
	tableNode             = "node"
	tableSessionExecution = "session_execution"
	tableSessionLog       = "session_log"
	tableExecution        = "execution"
	tableLog              = "log"
	tableSkipped          = "skipped"
	tableReason           = "reason"
	tableResult           = "result"
	tableError            = "error"
)

type colKind int

const (
	colID       colKind = iota // surrogate key
	colRef                     // foreign key to another table's id
	colName                    // short unique text
	colText                    // free text
	colTime                    // nullable timestamp
	colTimeNow                 // timestamp defaulting to the insert time
	colOrdinal                 // small integer enum ordinal
)

type column struct {
	name    string
	kind    colKind
	null    bool
	unique  bool
	ref     string // referenced table for colRef
	ordMax  int    // upper bound for colOrdinal
	indexed bool   // secondary index for lookups by this column
}

type table struct {
	name string
	cols []column
}

// tables lists the schema in creation order: every table comes after the
// tables it references.
var tables = []table{
	{name: tableNode, cols: []column{
		{name: "id", kind: colID},
		{name: "name", kind: colName, unique: true},
	}},
	{name: tableSessionExecution, cols: []column{
		{name: "id", kind: colID},
		{name: "initialized", kind: colTimeNow},
		{name: "terminated_time", kind: colTime, null: true},
	}},
	{name: tableSessionLog, cols: []column{
		{name: "id", kind: colID},
		{name: "session_execution", kind: colRef, ref: tableSessionExecution, indexed: true},
		{name: "level", kind: colOrdinal, ordMax: 7},
		{name: "message", kind: colText, null: true},
		{name: "time", kind: colTime},
	}},
	{name: tableExecution, cols: []column{
		{name: "id", kind: colID},
		{name: "node", kind: colRef, ref: tableNode, indexed: true},
		{name: "session_execution", kind: colRef, ref: tableSessionExecution, indexed: true},
	}},
	{name: tableLog, cols: []column{
		{name: "id", kind: colID},
		{name: "execution", kind: colRef, ref: tableExecution, indexed: true},
		{name: "level", kind: colOrdinal, ordMax: 7},
		{name: "message", kind: colText, null: true},
		{name: "time", kind: colTime},
	}},
	{name: tableSkipped, cols: []column{
		{name: "id", kind: colID},
		{name: "execution", kind: colRef, ref: tableExecution, unique: true},
	}},
	{name: tableReason, cols: []column{
		{name: "id", kind: colID},
		{name: "reason", kind: colText, null: true},
		{name: "skipped", kind: colRef, ref: tableSkipped, unique: true},
	}},
	{name: tableResult, cols: []column{
		{name: "id", kind: colID},
		{name: "execution", kind: colRef, ref: tableExecution, unique: true},
		{name: "started", kind: colTime, null: true},
		{name: "finished", kind: colTime, null: true},
		{name: "status", kind: colOrdinal, ordMax: 3, null: true},
	}},
	{name: tableError, cols: []column{
		{name: "id", kind: colID},
		{name: "message", kind: colText, null: true},
		{name: "result", kind: colRef, ref: tableResult, unique: true},
	}},
}

// statements holds every SQL text the store and reader issue, rendered
// once for a dialect.
type statements struct {
	dialect   store.Dialect
	returning bool // generated keys come back through RETURNING instead of LastInsertId

	ddl []string

	selectNodeID     string
	insertNode       string
	insertSession    string
	insertExecution  string
	insertResult     string
	updateStarted    string
	updateFinished   string
	selectResultID   string
	insertError      string
	insertSkipped    string
	insertReason     string
	insertLog        string
	insertSessionLog string
	updateTerminated string

	listSessions   string
	selectSession  string
	listExecutions string
	listLogs       string
	listSessLogs   string
}

func newStatements(d store.Dialect) (*statements, error) {
	switch d {
	case store.DialectMySQL, store.DialectPostgres, store.DialectSQLite:
	default:
		return nil, fmt.Errorf("unsupported dialect %q", d)
	}
	s := &statements{dialect: d, returning: d == store.DialectPostgres}
	s.ddl = s.schemaDDL()

	s.selectNodeID = s.render("SELECT {id} FROM [node] WHERE {name} = ?")
	s.insertNode = s.render("INSERT INTO [node] ({name}) VALUES (?)")
	if d == store.DialectMySQL {
		s.insertSession = s.render("INSERT INTO [session_execution] () VALUES ()")
	} else {
		s.insertSession = s.render("INSERT INTO [session_execution] DEFAULT VALUES")
	}
	s.insertExecution = s.render("INSERT INTO [execution] ({node}, {session_execution}) VALUES (?, ?)")
	s.insertResult = s.render("INSERT INTO [result] ({execution}) VALUES (?)")
	s.updateStarted = s.render("UPDATE [result] SET {started} = ? WHERE {execution} = ?")
	s.updateFinished = s.render("UPDATE [result] SET {finished} = ?, {status} = ? WHERE {execution} = ?")
	s.selectResultID = s.render("SELECT {id} FROM [result] WHERE {execution} = ?")
	s.insertError = s.render("INSERT INTO [error] ({message}, {result}) VALUES (?, ?)")
	s.insertSkipped = s.render("INSERT INTO [skipped] ({execution}) VALUES (?)")
	s.insertReason = s.render("INSERT INTO [reason] ({reason}, {skipped}) VALUES (?, ?)")
	s.insertLog = s.render("INSERT INTO [log] ({execution}, {level}, {message}, {time}) VALUES (?, ?, ?, ?)")
	s.insertSessionLog = s.render("INSERT INTO [session_log] ({session_execution}, {level}, {message}, {time}) VALUES (?, ?, ?, ?)")
	s.updateTerminated = s.render("UPDATE [session_execution] SET {terminated_time} = ? WHERE {id} = ?")

	s.listSessions = s.render("SELECT {id}, {initialized}, {terminated_time} FROM [session_execution] ORDER BY {id} DESC LIMIT ?")
	s.selectSession = s.render("SELECT {id}, {initialized}, {terminated_time} FROM [session_execution] WHERE {id} = ?")
	s.listExecutions = s.render(`SELECT e.{id}, n.{name}, r.{started}, r.{finished}, r.{status}, er.{message}, sk.{id}, rs.{reason}
FROM [execution] e
JOIN [node] n ON n.{id} = e.{node}
LEFT JOIN [result] r ON r.{execution} = e.{id}
LEFT JOIN [error] er ON er.{result} = r.{id}
LEFT JOIN [skipped] sk ON sk.{execution} = e.{id}
LEFT JOIN [reason] rs ON rs.{skipped} = sk.{id}
WHERE e.{session_execution} = ?
ORDER BY e.{id}`)
	s.listLogs = s.render(`SELECT l.{id}, l.{execution}, n.{name}, l.{level}, l.{message}, l.{time}
FROM [log] l
JOIN [execution] e ON e.{id} = l.{execution}
JOIN [node] n ON n.{id} = e.{node}
WHERE e.{session_execution} = ?
ORDER BY l.{id}`)
	s.listSessLogs = s.render("SELECT {id}, {level}, {message}, {time} FROM [session_log] WHERE {session_execution} = ? ORDER BY {id}")
	return s, nil
}

// withReturning appends the generated key clause for dialects that need it.
func (s *statements) withReturning(q string) string {
	if !s.returning {
		return q
	}
	return q + " RETURNING " + s.quote("id")
}

func (s *statements) quote(ident string) string {
	if s.dialect == store.DialectMySQL {
		return "`" + ident + "`"
	}
	return `"` + ident + `"`
}

// tableRef returns the schema qualified, quoted table name.
func (s *statements) tableRef(name string) string {
	if s.dialect == store.DialectSQLite {
		return s.quote(name)
	}
	return s.quote(SchemaName) + "." + s.quote(name)
}

// render expands [table] markers into schema qualified table names and
// {column} markers into quoted identifiers, and rebinds ? placeholders
// for the dialect.
func (s *statements) render(tmpl string) string {
	var b strings.Builder
	arg := 0
	for i := 0; i < len(tmpl); i++ {
		switch c := tmpl[i]; c {
		case '[', '{':
			closer := byte(']')
			if c == '{' {
				closer = '}'
			}
			end := strings.IndexByte(tmpl[i:], closer)
			ident := tmpl[i+1 : i+end]
			if c == '[' {
				b.WriteString(s.tableRef(ident))
			} else {
				b.WriteString(s.quote(ident))
			}
			i += end
		case '?':
			if s.dialect == store.DialectPostgres {
				arg++
				b.WriteString("$" + strconv.Itoa(arg))
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// schemaDDL renders the create-if-not-exists statements in dependency order.
func (s *statements) schemaDDL() []string {
	var out []string
	if s.dialect != store.DialectSQLite {
		out = append(out, "CREATE SCHEMA IF NOT EXISTS "+s.quote(SchemaName))
	}
	for _, t := range tables {
		out = append(out, s.createTable(t))
		if s.dialect == store.DialectMySQL {
			// InnoDB indexes foreign key columns on its own
			continue
		}
		for _, c := range t.cols {
			if c.indexed {
				// index names are never schema qualified; they follow their table
				idx := s.quote(t.name + "_" + c.name + "_idx")
				out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx, s.tableRef(t.name), s.quote(c.name)))
			}
		}
	}
	return out
}

func (s *statements) createTable(t table) string {
	defs := make([]string, 0, len(t.cols)+4)
	var tail []string
	for _, c := range t.cols {
		defs = append(defs, s.quote(c.name)+" "+s.columnType(c))
		switch {
		case c.kind == colID && s.dialect == store.DialectMySQL:
			tail = append(tail, "PRIMARY KEY ("+s.quote(c.name)+")")
		case c.unique && s.dialect == store.DialectMySQL:
			tail = append(tail, fmt.Sprintf("UNIQUE INDEX %s (%s)", s.quote(c.name+"_UNIQUE"), s.quote(c.name)))
		}
		if c.kind == colRef {
			tail = append(tail, fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE NO ACTION ON UPDATE NO ACTION",
				s.quote(t.name+"_"+c.name+"_fk"), s.quote(c.name), s.tableRef(c.ref), s.quote("id")))
		}
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.tableRef(t.name), strings.Join(append(defs, tail...), ", "))
}

func (s *statements) columnType(c column) string {
	var typ string
	switch c.kind {
	case colID:
		switch s.dialect {
		case store.DialectMySQL:
			return "INT UNSIGNED NOT NULL AUTO_INCREMENT"
		case store.DialectPostgres:
			return "BIGSERIAL PRIMARY KEY"
		default:
			return "INTEGER PRIMARY KEY AUTOINCREMENT"
		}
	case colRef:
		switch s.dialect {
		case store.DialectMySQL:
			typ = "INT UNSIGNED"
		case store.DialectPostgres:
			typ = "BIGINT"
		default:
			typ = "INTEGER"
		}
	case colName:
		typ = "VARCHAR(255)"
	case colText:
		typ = "TEXT"
	case colTime, colTimeNow:
		switch s.dialect {
		case store.DialectMySQL:
			typ = "TIMESTAMP(3)"
		case store.DialectPostgres:
			typ = "TIMESTAMPTZ(3)"
		default:
			typ = "TIMESTAMP"
		}
	case colOrdinal:
		typ = "SMALLINT"
	}

	if c.null {
		typ += " NULL"
	} else {
		typ += " NOT NULL"
	}
	if c.kind == colTimeNow {
		switch s.dialect {
		case store.DialectMySQL:
			typ += " DEFAULT CURRENT_TIMESTAMP(3)"
		case store.DialectPostgres:
			typ += " DEFAULT NOW()"
		default:
			typ += " DEFAULT CURRENT_TIMESTAMP"
		}
	}
	if c.unique && s.dialect != store.DialectMySQL {
		typ += " UNIQUE"
	}
	if c.kind == colOrdinal {
		typ += fmt.Sprintf(" CHECK (%s BETWEEN 1 AND %d)", s.quote(c.name), c.ordMax)
	}
	return typ
}

// SchemaDDL returns the statements Initialize runs to create the schema.
func SchemaDDL(d store.Dialect) ([]string, error) {
	s, err := newStatements(d)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), s.ddl...), nil
}
