package txn

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/surrealgo/surreal/errs"
)

// sender is the minimal transport capability a batched transaction
// needs: dispatch one RPC call. transport.Transport satisfies this
// structurally, so a *transport.StatelessTransport (or any other
// transport) can be passed directly without this package importing
// transport.
type sender interface {
	Send(ctx context.Context, method string, params interface{}) (interface{}, error)
}

type statement struct {
	sql  string
	vars map[string]interface{}
}

var _ Transaction = (*Batched)(nil)

// Batched is the stateless transaction model: every operation is
// lowered to SurrealQL and appended to an ordered statement list
// locally; nothing reaches the server until Commit joins the buffer
// into one BEGIN…COMMIT request. Rollback is purely local — there is
// nothing server-side to undo since nothing was sent.
type Batched struct {
	tr    sender
	state State

	statements []statement
	counter    int
}

// NewBatched constructs a batched transaction over tr. tr is not used
// until Commit.
func NewBatched(tr sender) *Batched {
	return &Batched{tr: tr, state: StateNew}
}

func (b *Batched) State() State { return b.state }

func (b *Batched) Begin(ctx context.Context) error {
	if b.state != StateNew {
		return errs.New(errs.KindTransaction, "batched transaction already begun")
	}
	b.state = StateActive
	return nil
}

func (b *Batched) requireActive() error {
	if b.state != StateActive {
		return errNotActive
	}
	return nil
}

func (b *Batched) nextNamespace() (int, func(name string) string) {
	i := b.counter
	b.counter++
	return i, func(name string) string { return fmt.Sprintf("tx_%d_%s", i, name) }
}

func (b *Batched) append(sql string, vars map[string]interface{}) {
	b.statements = append(b.statements, statement{sql: sql, vars: vars})
}

func (b *Batched) Create(ctx context.Context, thing string, data interface{}) (interface{}, error) {
	if err := b.requireActive(); err != nil {
		return nil, err
	}
	_, ns := b.nextNamespace()
	b.append(fmt.Sprintf("CREATE $%s CONTENT $%s;", ns("thing"), ns("data")),
		map[string]interface{}{ns("thing"): thing, ns("data"): data})
	return nil, nil
}

func (b *Batched) Insert(ctx context.Context, table string, data interface{}) (interface{}, error) {
	if err := b.requireActive(); err != nil {
		return nil, err
	}
	_, ns := b.nextNamespace()
	b.append(fmt.Sprintf("INSERT INTO %s $%s;", table, ns("data")),
		map[string]interface{}{ns("data"): data})
	return nil, nil
}

func (b *Batched) Update(ctx context.Context, thing string, data interface{}) (interface{}, error) {
	if err := b.requireActive(); err != nil {
		return nil, err
	}
	_, ns := b.nextNamespace()
	b.append(fmt.Sprintf("UPDATE $%s CONTENT $%s;", ns("thing"), ns("data")),
		map[string]interface{}{ns("thing"): thing, ns("data"): data})
	return nil, nil
}

func (b *Batched) Merge(ctx context.Context, thing string, data interface{}) (interface{}, error) {
	if err := b.requireActive(); err != nil {
		return nil, err
	}
	_, ns := b.nextNamespace()
	b.append(fmt.Sprintf("UPDATE $%s MERGE $%s;", ns("thing"), ns("data")),
		map[string]interface{}{ns("thing"): thing, ns("data"): data})
	return nil, nil
}

func (b *Batched) Delete(ctx context.Context, thing string) (interface{}, error) {
	if err := b.requireActive(); err != nil {
		return nil, err
	}
	_, ns := b.nextNamespace()
	b.append(fmt.Sprintf("DELETE $%s;", ns("thing")),
		map[string]interface{}{ns("thing"): thing})
	return nil, nil
}

func (b *Batched) Relate(ctx context.Context, from, relation, to string, data interface{}) (interface{}, error) {
	if err := b.requireActive(); err != nil {
		return nil, err
	}
	_, ns := b.nextNamespace()
	b.append(fmt.Sprintf("RELATE $%s->%s->$%s CONTENT $%s;", ns("from"), relation, ns("to"), ns("data")),
		map[string]interface{}{ns("from"): from, ns("to"): to, ns("data"): data})
	return nil, nil
}

// Query appends a caller-supplied statement, rewriting its `$name`
// variable references into the statement's private namespace so two
// Query calls in the same transaction can reuse the same variable name
// without colliding.
func (b *Batched) Query(ctx context.Context, sql string, vars map[string]interface{}) (interface{}, error) {
	if err := b.requireActive(); err != nil {
		return nil, err
	}
	_, ns := b.nextNamespace()

	rewritten := make(map[string]interface{}, len(vars))
	renamed := sql
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	// Longest-key-first so "$id" doesn't eat the prefix of "$id2".
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	for _, name := range names {
		renamed = strings.ReplaceAll(renamed, "$"+name, "$"+ns(name))
		rewritten[ns(name)] = vars[name]
	}

	b.append(renamed, rewritten)
	return nil, nil
}

// Commit joins every buffered statement into one BEGIN…COMMIT request
// and dispatches it. An empty buffer still sends an empty
// BEGIN…COMMIT request.
func (b *Batched) Commit(ctx context.Context) error {
	if err := b.requireActive(); err != nil {
		return err
	}

	var sql strings.Builder
	sql.WriteString("BEGIN TRANSACTION;\n")
	mergedVars := make(map[string]interface{})
	for _, stmt := range b.statements {
		sql.WriteString(stmt.sql)
		sql.WriteByte('\n')
		for k, v := range stmt.vars {
			mergedVars[k] = v
		}
	}
	sql.WriteString("COMMIT TRANSACTION;")

	_, err := b.tr.Send(ctx, "query", []interface{}{sql.String(), mergedVars})
	if err != nil {
		b.state = StateRolledBack
		return errs.ClassifyTransactionError(errs.Wrap(errs.KindTransaction, "commit", err))
	}
	b.state = StateCommitted
	return nil
}

// Rollback discards the local buffer. No server round-trip occurs
// because nothing was sent until Commit.
func (b *Batched) Rollback(ctx context.Context) error {
	if b.state != StateActive {
		return errNotActive
	}
	b.statements = nil
	b.state = StateRolledBack
	return nil
}
