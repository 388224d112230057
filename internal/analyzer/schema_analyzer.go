package analyzer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/rowshift/internal/connector"
	"github.com/vitebski/rowshift/pkg/models"
	"github.com/yourbasic/graph"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SchemaAnalyzer fills in column types the table list leaves undeclared
// by reading them from the database catalog
type SchemaAnalyzer struct {
	DB     *connector.DatabaseConnector
	Logger logrus.FieldLogger

	// catalog lookups are cached per table for the lifetime of the analyzer
	columnTypes map[string]map[string]models.ColumnType
}

// NewSchemaAnalyzer creates a new schema analyzer
func NewSchemaAnalyzer(db *connector.DatabaseConnector, logger logrus.FieldLogger) *SchemaAnalyzer {
	return &SchemaAnalyzer{
		DB:          db,
		Logger:      logger,
		columnTypes: make(map[string]map[string]models.ColumnType),
	}
}

// ResolveColumnTypes returns the table with a type for every column.
// Declared types win over catalog types; the catalog is only queried
// when at least one column is undeclared.
func (sa *SchemaAnalyzer) ResolveColumnTypes(ctx context.Context, table models.TableSpec) (models.TableSpec, error) {
	if table.HasAllColumnTypes() {
		return table, checkDatagenTypes(table)
	}

	discovered, err := sa.catalogTypes(ctx, table.Name)
	if err != nil {
		return table, err
	}

	resolved := make(map[string]models.ColumnType, len(table.AllColumns))
	for _, column := range table.AllColumns {
		if typ := table.TypeOf(column); typ != models.ColumnTypeUnknown {
			resolved[column] = typ
			continue
		}
		typ, ok := discovered[strings.ToLower(column)]
		if !ok {
			return table, fmt.Errorf("column %s not found in table %s", column, table.Name)
		}
		resolved[column] = typ
	}

	table.ColumnTypes = resolved
	sa.Logger.WithField("table", table.Name).Debugf("Resolved column types: %v", resolved)
	return table, checkDatagenTypes(table)
}

// catalogTypes reads (column, data type) pairs for a table
func (sa *SchemaAnalyzer) catalogTypes(ctx context.Context, tableName string) (map[string]models.ColumnType, error) {
	if cached, ok := sa.columnTypes[tableName]; ok {
		return cached, nil
	}

	query, args := sa.DB.Dialect().ColumnTypesSQL(sa.DB.Database, tableName)
	rows, err := sa.DB.ExecuteQuery(ctx, query, args...)
	if err != nil {
		sa.Logger.Errorf("Error reading column types for table %s: %v", tableName, err)
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("table %s not found", tableName)
	}

	types := make(map[string]models.ColumnType, len(rows))
	for _, row := range rows {
		name, _ := row["column_name"].(string)
		dataType, _ := row["data_type"].(string)
		if name == "" {
			continue
		}
		types[strings.ToLower(name)] = MapDataType(dataType)
	}

	sa.columnTypes[tableName] = types
	return types, nil
}

// MapDataType maps a catalog data type name to a column type
func MapDataType(dataType string) models.ColumnType {
	dt := strings.ToLower(strings.TrimSpace(dataType))
	if i := strings.Index(dt, "("); i >= 0 {
		dt = strings.TrimSpace(dt[:i])
	}

	switch dt {
	case "":
		return models.ColumnTypeUnknown
	case "int", "integer", "bigint", "smallint", "tinyint", "mediumint",
		"int2", "int4", "int8", "serial", "bigserial", "smallserial":
		return models.ColumnTypeInteger
	case "json", "jsonb":
		return models.ColumnTypeJSON
	case "timestamp", "timestamptz", "timestamp without time zone", "timestamp with time zone",
		"datetime", "date":
		return models.ColumnTypeTimestamp
	case "bool", "boolean":
		return models.ColumnTypeBoolean
	case "numeric", "decimal", "real", "double", "double precision", "float", "float4", "float8":
		return models.ColumnTypeNumeric
	case "blob", "tinyblob", "mediumblob", "longblob", "bytea", "binary", "varbinary":
		return models.ColumnTypeBinary
	default:
		return models.ColumnTypeText
	}
}

func checkDatagenTypes(table models.TableSpec) error {
	for _, column := range table.ColumnsToDatagen {
		if typ := table.TypeOf(column); typ != models.ColumnTypeTimestamp {
			return fmt.Errorf("table %s: datagen column %s has type %q, expected timestamp", table.Name, column, typ)
		}
	}
	return nil
}

// IsValidIdentifier reports whether s is a plain SQL identifier
func IsValidIdentifier(s string) bool {
	return identRe.MatchString(s)
}

// ValidateTableSpec checks a single table entry of the table list
func ValidateTableSpec(table models.TableSpec) error {
	if table.Name == "" {
		return errors.New("table name is required")
	}
	if !IsValidIdentifier(table.Name) {
		return fmt.Errorf("invalid table identifier: %s", table.Name)
	}
	if len(table.AllColumns) == 0 {
		return fmt.Errorf("table %s: allColumns must not be empty", table.Name)
	}

	columns := make(map[string]bool, len(table.AllColumns))
	for _, column := range table.AllColumns {
		if !IsValidIdentifier(column) {
			return fmt.Errorf("table %s: invalid column identifier: %s", table.Name, column)
		}
		if columns[column] {
			return fmt.Errorf("table %s: duplicate column: %s", table.Name, column)
		}
		columns[column] = true
	}

	if !IsValidIdentifier(table.TimestampColumn) {
		return fmt.Errorf("table %s: invalid timestamp column: %q", table.Name, table.TimestampColumn)
	}
	if !columns[table.TimestampColumn] {
		return fmt.Errorf("table %s: timestamp column %s is not listed in allColumns", table.Name, table.TimestampColumn)
	}

	for _, column := range table.ColumnsToDatagen {
		if !columns[column] {
			return fmt.Errorf("table %s: datagen column %s is not listed in allColumns", table.Name, column)
		}
		if column == table.IDColumn() {
			return fmt.Errorf("table %s: the id column %s cannot be a datagen column", table.Name, column)
		}
		if typ := table.TypeOf(column); typ != models.ColumnTypeUnknown && typ != models.ColumnTypeTimestamp {
			return fmt.Errorf("table %s: datagen column %s is declared %q, expected timestamp", table.Name, column, typ)
		}
	}

	for column, typ := range table.ColumnTypes {
		if !columns[column] {
			return fmt.Errorf("table %s: columnTypes names unknown column %s", table.Name, column)
		}
		if !isKnownColumnType(typ) {
			return fmt.Errorf("table %s: unknown column type %q for %s", table.Name, typ, column)
		}
	}

	for _, dep := range table.DependsOn {
		if !IsValidIdentifier(dep) {
			return fmt.Errorf("table %s: invalid dependsOn identifier: %s", table.Name, dep)
		}
	}

	return nil
}

func isKnownColumnType(typ models.ColumnType) bool {
	switch typ {
	case models.ColumnTypeInteger, models.ColumnTypeText, models.ColumnTypeTimestamp,
		models.ColumnTypeJSON, models.ColumnTypeBoolean, models.ColumnTypeNumeric, models.ColumnTypeBinary:
		return true
	}
	return false
}

// OrderTables returns the tables so that every table comes after the
// tables it depends on. Tables without a dependency between them keep
// their configured order.
func OrderTables(tables []models.TableSpec) ([]models.TableSpec, error) {
	index := make(map[string]int, len(tables))
	for i, table := range tables {
		if _, dup := index[table.Name]; dup {
			return nil, fmt.Errorf("duplicate table: %s", table.Name)
		}
		index[table.Name] = i
	}

	// Edge dep -> table: dep must be processed first
	g := graph.New(len(tables))
	for i, table := range tables {
		for _, dep := range table.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("table %s depends on unknown table %s", table.Name, dep)
			}
			g.Add(j, i)
		}
	}

	if !graph.Acyclic(g) {
		return nil, fmt.Errorf("circular dependsOn between tables: %s", strings.Join(cycleMembers(g, tables), ", "))
	}

	inDegree := make([]int, len(tables))
	for v := range tables {
		g.Visit(v, func(w int, _ int64) bool {
			inDegree[w]++
			return false
		})
	}

	// Kahn's algorithm, always taking the lowest configured position next
	ordered := make([]models.TableSpec, 0, len(tables))
	done := make([]bool, len(tables))
	for len(ordered) < len(tables) {
		next := -1
		for v := range tables {
			if !done[v] && inDegree[v] == 0 {
				next = v
				break
			}
		}
		done[next] = true
		ordered = append(ordered, tables[next])
		g.Visit(next, func(w int, _ int64) bool {
			inDegree[w]--
			return false
		})
	}

	return ordered, nil
}

// cycleMembers names the tables that sit in a strongly connected
// component of more than one table, or depend on themselves
func cycleMembers(g *graph.Mutable, tables []models.TableSpec) []string {
	var names []string
	for _, component := range graph.StrongComponents(g) {
		if len(component) == 1 && !g.Edge(component[0], component[0]) {
			continue
		}
		for _, v := range component {
			names = append(names, tables[v].Name)
		}
	}
	return names
}
