package hostdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/guileen/heimdall/prompt"
)

// SchemaProvider loads table schemas for the prompt builder by
// introspecting the host catalog. Loaded schemas are cached for the
// process lifetime; DDL changes require a restart or an explicit
// Invalidate.
type SchemaProvider struct {
	session *Session
	cache   sync.Map // table name -> prompt.TableSchema
}

// NewSchemaProvider returns a provider over the session.
func NewSchemaProvider(session *Session) *SchemaProvider {
	return &SchemaProvider{session: session}
}

// Invalidate drops the cached schema for a table, or every table when the
// name is empty.
func (p *SchemaProvider) Invalidate(table string) {
	if table == "" {
		p.cache.Range(func(k, _ any) bool {
			p.cache.Delete(k)
			return true
		})
		return
	}
	p.cache.Delete(table)
}

// Schemas implements optimizer.SchemaProvider. Unknown tables are skipped
// rather than failing the whole prompt.
func (p *SchemaProvider) Schemas(ctx context.Context, _ any, tables []string) ([]prompt.TableSchema, error) {
	sorted := append([]string(nil), tables...)
	sort.Strings(sorted)

	var out []prompt.TableSchema
	for _, table := range sorted {
		if cached, ok := p.cache.Load(table); ok {
			out = append(out, cached.(prompt.TableSchema))
			continue
		}
		schema, err := p.loadTable(ctx, table)
		if err != nil {
			return nil, err
		}
		if schema == nil {
			continue
		}
		p.cache.Store(table, *schema)
		out = append(out, *schema)
	}
	return out, nil
}

func (p *SchemaProvider) loadTable(ctx context.Context, table string) (*prompt.TableSchema, error) {
	rows, err := p.session.pool.Query(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_name = $1
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("load columns for %s: %w", table, err)
	}
	defer rows.Close()

	var columns, columnDefs []string
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, name)
		columnDefs = append(columnDefs, fmt.Sprintf("    %s %s", name, dataType))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, nil
	}

	primaryKeys, err := p.loadKeys(ctx, table, "PRIMARY KEY")
	if err != nil {
		return nil, err
	}
	foreignKeys, err := p.loadKeys(ctx, table, "FOREIGN KEY")
	if err != nil {
		return nil, err
	}

	create := fmt.Sprintf("CREATE TABLE %s (\n%s\n)", table, strings.Join(columnDefs, ",\n"))
	return &prompt.TableSchema{
		TableName:       table,
		Columns:         columns,
		PrimaryKeys:     primaryKeys,
		ForeignKeys:     foreignKeys,
		CreateStatement: create,
	}, nil
}

func (p *SchemaProvider) loadKeys(ctx context.Context, table, constraintType string) ([]string, error) {
	rows, err := p.session.pool.Query(ctx, `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		WHERE tc.table_name = $1 AND tc.constraint_type = $2
		ORDER BY kcu.ordinal_position`, table, constraintType)
	if err != nil {
		return nil, fmt.Errorf("load %s for %s: %w", strings.ToLower(constraintType), table, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		keys = append(keys, name)
	}
	return keys, rows.Err()
}
