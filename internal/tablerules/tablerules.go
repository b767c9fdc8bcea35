// Package tablerules implements schema-only, predicate, and time-window
// table rules, keyed by an optional database scope, with a deterministic
// fingerprint used to validate checkpoint resumption.
package tablerules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pgbridge/pgbridge/internal/errkind"
	"github.com/pgbridge/pgbridge/internal/idvalidate"
)

// QualifiedTable is a (database?, schema, table) identifier, parsed from 1,
// 2, or 3 dot-separated parts. A nil Database means the rule applies to
// every database.
type QualifiedTable struct {
	Database *string
	Schema   string
	Table    string
}

// ParseQualifiedTable parses "table", "schema.table", or
// "database.schema.table". A single part defaults to schema "public".
func ParseQualifiedTable(spec string) (QualifiedTable, error) {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return QualifiedTable{}, errkind.New(errkind.InvalidConfig, "table specification cannot be empty")
	}

	parts := strings.Split(trimmed, ".")
	switch len(parts) {
	case 1:
		table, err := nonEmpty(parts[0], "table")
		if err != nil {
			return QualifiedTable{}, err
		}
		if err := idvalidate.Validate(table); err != nil {
			return QualifiedTable{}, err
		}
		return QualifiedTable{Database: nil, Schema: "public", Table: table}, nil
	case 2:
		schema, err := nonEmpty(parts[0], "schema")
		if err != nil {
			return QualifiedTable{}, err
		}
		table, err := nonEmpty(parts[1], "table")
		if err != nil {
			return QualifiedTable{}, err
		}
		if err := idvalidate.Validate(schema); err != nil {
			return QualifiedTable{}, err
		}
		if err := idvalidate.Validate(table); err != nil {
			return QualifiedTable{}, err
		}
		return QualifiedTable{Database: nil, Schema: schema, Table: table}, nil
	case 3:
		database, err := nonEmpty(parts[0], "database")
		if err != nil {
			return QualifiedTable{}, err
		}
		schema, err := nonEmpty(parts[1], "schema")
		if err != nil {
			return QualifiedTable{}, err
		}
		table, err := nonEmpty(parts[2], "table")
		if err != nil {
			return QualifiedTable{}, err
		}
		if err := idvalidate.Validate(database); err != nil {
			return QualifiedTable{}, err
		}
		if err := idvalidate.Validate(schema); err != nil {
			return QualifiedTable{}, err
		}
		if err := idvalidate.Validate(table); err != nil {
			return QualifiedTable{}, err
		}
		return QualifiedTable{Database: &database, Schema: schema, Table: table}, nil
	default:
		return QualifiedTable{}, errkind.New(errkind.InvalidConfig,
			"invalid table specification %q: must be 'table', 'schema.table', or 'database.schema.table'", spec)
	}
}

func nonEmpty(value, label string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", errkind.New(errkind.InvalidConfig, "%s name cannot be empty", label)
	}
	return trimmed, nil
}

// SchemaQualified renders "schema"."table".
func (q QualifiedTable) SchemaQualified() string {
	return fmt.Sprintf("%s.%s", quoteIdent(q.Schema), quoteIdent(q.Table))
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// TimeFilterRule compiles a normalized "<amount> <unit>" window to a
// predicate against column.
type TimeFilterRule struct {
	Column   string
	Interval string
}

func (r TimeFilterRule) predicate() string {
	return fmt.Sprintf("%s >= NOW() - INTERVAL '%s'", quoteIdent(r.Column), r.Interval)
}

// RuleKindTag distinguishes the two TableRuleKind variants.
type RuleKindTag int

const (
	KindNone RuleKindTag = iota
	KindSchemaOnly
	KindPredicate
)

// TableRuleKind is SchemaOnly, or Predicate carrying a SQL boolean
// expression. There are exactly two non-empty variants; callers switch
// exhaustively on Tag.
type TableRuleKind struct {
	Tag       RuleKindTag
	Predicate string
}

type schemaTableKey struct {
	schema string
	table  string
}

func (k schemaTableKey) schemaQualified() string {
	return fmt.Sprintf("%s.%s", quoteIdent(k.schema), quoteIdent(k.table))
}

func keyFromQualified(q QualifiedTable) schemaTableKey {
	return schemaTableKey{schema: q.Schema, table: q.Table}
}

func keyFromParts(schema, table string) schemaTableKey {
	if schema == "" {
		schema = "public"
	}
	return schemaTableKey{schema: schema, table: table}
}

// scopeKey is "" for Global, otherwise "db:<name>".
type scopeKey string

const globalScope scopeKey = ""

func scopeFromDatabase(db *string) scopeKey {
	if db == nil {
		return globalScope
	}
	return scopeKey("db:" + *db)
}

func scopeFor(database string) scopeKey {
	return scopeKey("db:" + database)
}

// TableRules holds schema-only, predicate, and time-window rules across a
// Global scope and per-database scopes.
type TableRules struct {
	schemaOnly   map[scopeKey]map[schemaTableKey]struct{}
	tableFilters map[scopeKey]map[schemaTableKey]string
	timeFilters  map[scopeKey]map[schemaTableKey]TimeFilterRule
}

// New returns an empty rule set.
func New() *TableRules {
	return &TableRules{
		schemaOnly:   map[scopeKey]map[schemaTableKey]struct{}{},
		tableFilters: map[scopeKey]map[schemaTableKey]string{},
		timeFilters:  map[scopeKey]map[schemaTableKey]TimeFilterRule{},
	}
}

// AddSchemaOnlyTable marks qualified as schema-only within its scope.
func (r *TableRules) AddSchemaOnlyTable(q QualifiedTable) error {
	scope := scopeFromDatabase(q.Database)
	key := keyFromQualified(q)
	if r.schemaOnly[scope] == nil {
		r.schemaOnly[scope] = map[schemaTableKey]struct{}{}
	}
	r.schemaOnly[scope][key] = struct{}{}
	return nil
}

// AddTableFilter attaches a raw predicate to qualified.
func (r *TableRules) AddTableFilter(q QualifiedTable, predicate string) error {
	if strings.TrimSpace(predicate) == "" {
		return errkind.New(errkind.RuleConflict, "table filter predicate cannot be empty for %q", q.SchemaQualified())
	}
	if err := r.ensureSchemaOnlyFree(q, "table filter"); err != nil {
		return err
	}
	scope := scopeFromDatabase(q.Database)
	key := keyFromQualified(q)
	if r.tableFilters[scope] == nil {
		r.tableFilters[scope] = map[schemaTableKey]string{}
	}
	r.tableFilters[scope][key] = predicate
	return nil
}

// AddTimeFilter attaches a normalized time-window rule to qualified.
func (r *TableRules) AddTimeFilter(q QualifiedTable, column, window string) error {
	if err := idvalidate.Validate(column); err != nil {
		return err
	}
	interval, err := normalizeTimeWindow(window)
	if err != nil {
		return err
	}
	if err := r.ensureSchemaOnlyFree(q, "time filter"); err != nil {
		return err
	}
	scope := scopeFromDatabase(q.Database)
	key := keyFromQualified(q)
	if inner, ok := r.tableFilters[scope]; ok {
		if _, exists := inner[key]; exists {
			return errkind.New(errkind.RuleConflict,
				"cannot apply time filter to table %q because a table filter already exists", q.SchemaQualified())
		}
	}
	if r.timeFilters[scope] == nil {
		r.timeFilters[scope] = map[schemaTableKey]TimeFilterRule{}
	}
	r.timeFilters[scope][key] = TimeFilterRule{Column: column, Interval: interval}
	return nil
}

func (r *TableRules) ensureSchemaOnlyFree(q QualifiedTable, ruleName string) error {
	key := keyFromQualified(q)
	if set, ok := r.schemaOnly[globalScope]; ok {
		if _, exists := set[key]; exists {
			return errkind.New(errkind.RuleConflict,
				"cannot apply %s to table %q because it is marked schema-only globally", ruleName, q.SchemaQualified())
		}
	}
	if q.Database != nil {
		if set, ok := r.schemaOnly[scopeFor(*q.Database)]; ok {
			if _, exists := set[key]; exists {
				return errkind.New(errkind.RuleConflict,
					"cannot apply %s to table %q in database %q because it is schema-only", ruleName, q.SchemaQualified(), *q.Database)
			}
		}
	}
	return nil
}

// ApplySchemaOnlyCLI parses and adds each "[db.]schema.table | [db.]table | table" spec.
func (r *TableRules) ApplySchemaOnlyCLI(specs []string) error {
	for _, spec := range specs {
		q, err := ParseQualifiedTable(spec)
		if err != nil {
			return err
		}
		if err := r.AddSchemaOnlyTable(q); err != nil {
			return err
		}
	}
	return nil
}

// ApplyTableFilterCLI parses and adds each "<table-spec>:<predicate>" spec.
func (r *TableRules) ApplyTableFilterCLI(specs []string) error {
	for _, spec := range specs {
		tablePart, predicate, ok := strings.Cut(spec, ":")
		if !ok {
			return errkind.New(errkind.InvalidConfig, "table filter %q missing ':' separator", spec)
		}
		if strings.TrimSpace(predicate) == "" {
			return errkind.New(errkind.InvalidConfig, "table filter %q must include a predicate after ':'", spec)
		}
		q, err := ParseQualifiedTable(tablePart)
		if err != nil {
			return err
		}
		if err := r.AddTableFilter(q, strings.TrimSpace(predicate)); err != nil {
			return err
		}
	}
	return nil
}

// ApplyTimeFilterCLI parses and adds each "<table-spec>:<column>:<amount> <unit>" spec.
func (r *TableRules) ApplyTimeFilterCLI(specs []string) error {
	for _, spec := range specs {
		tablePart, rest, ok := strings.Cut(spec, ":")
		if !ok {
			return errkind.New(errkind.InvalidConfig, "time filter %q missing second ':'", spec)
		}
		column, window, ok := strings.Cut(rest, ":")
		if !ok {
			return errkind.New(errkind.InvalidConfig, "time filter %q must be table:column:window", spec)
		}
		if strings.TrimSpace(column) == "" || strings.TrimSpace(window) == "" {
			return errkind.New(errkind.InvalidConfig, "time filter %q must include non-empty column and window", spec)
		}
		q, err := ParseQualifiedTable(tablePart)
		if err != nil {
			return err
		}
		if err := r.AddTimeFilter(q, strings.TrimSpace(column), strings.TrimSpace(window)); err != nil {
			return err
		}
	}
	return nil
}

// SchemaOnlyTables returns the sorted, deduplicated union of schema-only
// tables in Global scope and the given database's scope, as "schema"."table".
func (r *TableRules) SchemaOnlyTables(database string) []string {
	return collectTables(r.schemaOnly, database)
}

func collectTables(m map[scopeKey]map[schemaTableKey]struct{}, database string) []string {
	seen := map[string]struct{}{}
	if global, ok := m[globalScope]; ok {
		for k := range global {
			seen[k.schemaQualified()] = struct{}{}
		}
	}
	if specific, ok := m[scopeFor(database)]; ok {
		for k := range specific {
			seen[k.schemaQualified()] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// TableFilter returns the raw predicate for (schema, table) in database,
// preferring the database-scoped rule over a Global one.
func (r *TableRules) TableFilter(database, schema, table string) (string, bool) {
	return lookupScoped(r.tableFilters, database, schema, table)
}

// TimeFilter returns the time-window rule for (schema, table) in database.
func (r *TableRules) TimeFilter(database, schema, table string) (TimeFilterRule, bool) {
	return lookupScoped(r.timeFilters, database, schema, table)
}

func lookupScoped[V any](m map[scopeKey]map[schemaTableKey]V, database, schema, table string) (V, bool) {
	key := keyFromParts(schema, table)
	if inner, ok := m[scopeFor(database)]; ok {
		if v, ok := inner[key]; ok {
			return v, true
		}
	}
	if inner, ok := m[globalScope]; ok {
		if v, ok := inner[key]; ok {
			return v, true
		}
	}
	var zero V
	return zero, false
}

// PredicateTables returns the ordered (fully-qualified table, effective
// predicate) pairs for database: schema-only tables are excluded; an
// explicit predicate wins over a time filter for the same table.
func (r *TableRules) PredicateTables(database string) []struct{ Table, Predicate string } {
	schemaOnly := map[string]struct{}{}
	for _, t := range r.SchemaOnlyTables(database) {
		schemaOnly[t] = struct{}{}
	}

	combined := map[string]string{}
	for table, predicate := range scopedMapValues(r.tableFilters, database) {
		if _, excluded := schemaOnly[table]; excluded {
			continue
		}
		combined[table] = predicate
	}
	for table, rule := range scopedMapValues(r.timeFilters, database) {
		if _, excluded := schemaOnly[table]; excluded {
			continue
		}
		if _, exists := combined[table]; exists {
			continue
		}
		combined[table] = rule.predicate()
	}

	keys := make([]string, 0, len(combined))
	for k := range combined {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]struct{ Table, Predicate string }, 0, len(keys))
	for _, k := range keys {
		out = append(out, struct{ Table, Predicate string }{Table: k, Predicate: combined[k]})
	}
	return out
}

func scopedMapValues[V any](m map[scopeKey]map[schemaTableKey]V, database string) map[string]V {
	values := map[string]V{}
	if global, ok := m[globalScope]; ok {
		for k, v := range global {
			values[k.schemaQualified()] = v
		}
	}
	if specific, ok := m[scopeFor(database)]; ok {
		for k, v := range specific {
			values[k.schemaQualified()] = v
		}
	}
	return values
}

// RuleForTable resolves the effective rule for (schema, table) in database:
// SchemaOnly wins over an explicit Predicate, which wins over a time filter.
func (r *TableRules) RuleForTable(database, schema, table string) TableRuleKind {
	key := keyFromParts(schema, table)
	if set, ok := r.schemaOnly[globalScope]; ok {
		if _, exists := set[key]; exists {
			return TableRuleKind{Tag: KindSchemaOnly}
		}
	}
	if set, ok := r.schemaOnly[scopeFor(database)]; ok {
		if _, exists := set[key]; exists {
			return TableRuleKind{Tag: KindSchemaOnly}
		}
	}
	if predicate, ok := r.TableFilter(database, schema, table); ok {
		return TableRuleKind{Tag: KindPredicate, Predicate: predicate}
	}
	if rule, ok := r.TimeFilter(database, schema, table); ok {
		return TableRuleKind{Tag: KindPredicate, Predicate: rule.predicate()}
	}
	return TableRuleKind{Tag: KindNone}
}

// IsEmpty reports whether no rules of any kind are present.
func (r *TableRules) IsEmpty() bool {
	return len(r.schemaOnly) == 0 && len(r.tableFilters) == 0 && len(r.timeFilters) == 0
}

// Fingerprint is a SHA-256 hex digest over a canonical, order-independent
// encoding of all three rule maps. Equal rule sets produce equal
// fingerprints regardless of insertion order; any addition, removal, or
// edit changes it.
func (r *TableRules) Fingerprint() string {
	h := sha256.New()
	hashScopedSet(h, r.schemaOnly)
	hashScopedMap(h, r.tableFilters, func(v string) string { return v })
	hashScopedMap(h, r.timeFilters, func(v TimeFilterRule) string {
		return v.Column + "|" + v.Interval
	})
	return hex.EncodeToString(h.Sum(nil))
}

func sortedScopes[V any](m map[scopeKey]V) []scopeKey {
	scopes := make([]scopeKey, 0, len(m))
	for s := range m {
		scopes = append(scopes, s)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i] < scopes[j] })
	return scopes
}

func sortedKeys[V any](m map[schemaTableKey]V) []schemaTableKey {
	keys := make([]schemaTableKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].schema != keys[j].schema {
			return keys[i].schema < keys[j].schema
		}
		return keys[i].table < keys[j].table
	})
	return keys
}

func hashScopeLabel(h io.Writer, scope scopeKey) {
	if scope == globalScope {
		io.WriteString(h, "global")
	} else {
		io.WriteString(h, string(scope))
	}
	io.WriteString(h, "#")
}

func hashScopedSet(h io.Writer, data map[scopeKey]map[schemaTableKey]struct{}) {
	for _, scope := range sortedScopes(data) {
		if len(data[scope]) == 0 {
			continue
		}
		hashScopeLabel(h, scope)
		for _, key := range sortedKeys(data[scope]) {
			io.WriteString(h, key.schema)
			io.WriteString(h, ".")
			io.WriteString(h, key.table)
			io.WriteString(h, "|")
		}
	}
}

func hashScopedMap[V any](h io.Writer, data map[scopeKey]map[schemaTableKey]V, encode func(V) string) {
	for _, scope := range sortedScopes(data) {
		if len(data[scope]) == 0 {
			continue
		}
		hashScopeLabel(h, scope)
		for _, key := range sortedKeys(data[scope]) {
			io.WriteString(h, key.schema)
			io.WriteString(h, ".")
			io.WriteString(h, key.table)
			io.WriteString(h, "=")
			io.WriteString(h, encode(data[scope][key]))
			io.WriteString(h, "|")
		}
	}
}

var timeUnitAliases = map[string]string{
	"second": "second", "seconds": "second", "sec": "second", "secs": "second",
	"minute": "minute", "minutes": "minute", "min": "minute", "mins": "minute",
	"hour": "hour", "hours": "hour", "hr": "hour", "hrs": "hour",
	"day": "day", "days": "day",
	"week": "week", "weeks": "week",
	"month": "month", "months": "month", "mon": "month", "mons": "month",
	"year": "year", "years": "year", "yr": "year", "yrs": "year",
}

// normalizeTimeWindow canonicalizes "<amount> <unit>" to a strictly
// positive integer amount and the singular canonical unit name.
func normalizeTimeWindow(window string) (string, error) {
	trimmed := strings.TrimSpace(window)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", errkind.New(errkind.InvalidConfig, "time filter window %q missing amount", window)
	}
	if len(fields) == 1 {
		return "", errkind.New(errkind.InvalidConfig, "time filter window %q missing unit", window)
	}
	if len(fields) > 2 {
		return "", errkind.New(errkind.InvalidConfig, "time filter window %q must be '<amount> <unit>'", window)
	}

	amount, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return "", errkind.New(errkind.InvalidConfig, "invalid time window amount %q: must be integer", fields[0])
	}
	if amount <= 0 {
		return "", errkind.New(errkind.InvalidConfig, "time window amount must be positive, got %d", amount)
	}

	unit, ok := timeUnitAliases[strings.ToLower(fields[1])]
	if !ok {
		return "", errkind.New(errkind.InvalidConfig,
			"unsupported time window unit %q; use seconds/minutes/hours/days/weeks/months/years", fields[1])
	}

	return fmt.Sprintf("%d %s", amount, unit), nil
}
