package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/CamFlow/callgraphs/internal/graph"
	"github.com/CamFlow/callgraphs/internal/telemetry"
)

// Persist records that caller calls every identity in callees.
//
// The caller is inserted when unknown. When it is known and already has
// outgoing edges, the call is a repeat observation and nothing is written
// (unless the store uses EdgePolicyEdge). Otherwise its location is refreshed
// and one edge per distinct callee is inserted. Callees are inserted when
// unknown and keep their first-seen location.
//
// The whole call runs in one transaction, retried while other writers hold
// the store lock. On failure nothing from this call is kept.
func (s *SQLiteStore) Persist(ctx context.Context, caller graph.Identity, callees []graph.Identity) (out Outcome, err error) {
	start := time.Now()
	ctx, span := telemetry.StartPersistSpan(ctx, caller.Name, caller.File, len(callees))
	defer func() {
		telemetry.ObserveSince(telemetry.PersistDuration, start)
		if err != nil {
			telemetry.PersistFailures.Inc()
		}
		telemetry.EndSpan(span, err)
	}()

	if err := validate(caller, callees); err != nil {
		return Outcome{}, &PersistError{Op: "validate", Caller: caller, Err: err}
	}
	distinct := graph.Observation{Caller: caller, Callees: callees}.DistinctCallees()

	out, err = retry(ctx, s.opts.retry, func() (Outcome, error) {
		return s.persistTx(ctx, caller, distinct)
	})
	if err != nil {
		var pe *PersistError
		if !errors.As(err, &pe) {
			pe = &PersistError{Op: "persist", Err: err}
		}
		pe.Caller = caller
		if isBusy(pe.Err) {
			pe.kind = ErrBusy
		}
		return Outcome{}, pe
	}

	if out.Skipped {
		telemetry.CallersSkipped.Inc()
	}
	if out.CallerUpdated {
		telemetry.NodesUpdated.Inc()
	}
	telemetry.NodesCreated.Add(float64(out.NodesCreated))
	telemetry.EdgesCreated.Add(float64(out.EdgesCreated))
	return out, nil
}

// PersistAll persists every observation on its own. A failing observation does
// not stop the others; the failures are joined in the returned error.
func (s *SQLiteStore) PersistAll(ctx context.Context, obs []graph.Observation) ([]Outcome, error) {
	outs := make([]Outcome, 0, len(obs))
	var errs []error
	for _, o := range obs {
		out, err := s.Persist(ctx, o.Caller, o.Callees)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		outs = append(outs, out)
	}
	return outs, errors.Join(errs...)
}

func validate(caller graph.Identity, callees []graph.Identity) error {
	if err := caller.Validate(); err != nil {
		return err
	}
	for _, c := range callees {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) persistTx(ctx context.Context, caller graph.Identity, callees []graph.Identity) (Outcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, opError("begin", err)
	}
	defer tx.Rollback()

	r := &resolver{ctx: ctx, tx: tx, s: s, pending: make(map[graph.Key]int64)}
	var out Outcome

	n, found, err := r.find(caller)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		n, found, err = r.insert(caller)
		if err != nil {
			return Outcome{}, err
		}
		if !found {
			out.CallerCreated = true
			out.NodesCreated++
		}
	}
	out.CallerID = n.id

	if found {
		if s.opts.policy == EdgePolicyCaller {
			registered, err := r.hasEdges(n.id)
			if err != nil {
				return Outcome{}, err
			}
			if registered {
				out.Skipped = true
				return out, r.commit()
			}
		}
		if n.file != caller.File || n.line != caller.Line {
			if err := r.updateLocation(n.id, caller); err != nil {
				return Outcome{}, err
			}
			out.CallerUpdated = true
		}
	}

	for _, c := range callees {
		id, created, err := r.resolve(c)
		if err != nil {
			return Outcome{}, err
		}
		if created {
			out.NodesCreated++
		}
		inserted, err := r.insertEdge(out.CallerID, id)
		if err != nil {
			return Outcome{}, err
		}
		if inserted {
			out.EdgesCreated++
		}
	}
	return out, r.commit()
}

// resolver runs the prepared statements inside one transaction and collects
// the ids it learns until the transaction commits.
type resolver struct {
	ctx     context.Context
	tx      *sql.Tx
	s       *SQLiteStore
	pending map[graph.Key]int64
}

func (r *resolver) stmt(st *sql.Stmt) *sql.Stmt {
	return r.tx.StmtContext(r.ctx, st)
}

func (r *resolver) find(id graph.Identity) (storedNode, bool, error) {
	var row *sql.Row
	if id.IsGlobal() {
		row = r.stmt(r.s.stmts.findGlobal).QueryRowContext(r.ctx, id.Name)
	} else {
		row = r.stmt(r.s.stmts.findLocal).QueryRowContext(r.ctx, id.Name, id.File)
	}
	var n storedNode
	err := row.Scan(&n.id, &n.file, &n.line)
	if err == sql.ErrNoRows {
		return storedNode{}, false, nil
	}
	if err != nil {
		return storedNode{}, false, opError("find "+id.Key().String(), err)
	}
	r.pending[id.Key()] = n.id
	return n, true, nil
}

// insert adds id. When another writer inserted the same key first, the
// existing row is returned with found set.
func (r *resolver) insert(id graph.Identity) (n storedNode, found bool, err error) {
	global := 0
	if id.IsGlobal() {
		global = 1
	}
	res, err := r.stmt(r.s.stmts.insertNode).ExecContext(r.ctx, id.Name, id.File, id.Line, global)
	if err != nil {
		if !isUniqueViolation(err) {
			return storedNode{}, false, opError("insert "+id.Key().String(), err)
		}
		n, ok, ferr := r.find(id)
		if ferr != nil {
			return storedNode{}, false, ferr
		}
		if !ok {
			return storedNode{}, false, opError("insert "+id.Key().String(), err)
		}
		telemetry.IdentityConflicts.Inc()
		return n, true, nil
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return storedNode{}, false, opError("insert "+id.Key().String(), err)
	}
	r.pending[id.Key()] = rowID
	return storedNode{id: rowID, file: id.File, line: id.Line}, false, nil
}

// resolve returns the row id for a callee, inserting it when unknown.
func (r *resolver) resolve(id graph.Identity) (rowID int64, created bool, err error) {
	k := id.Key()
	if v, ok := r.pending[k]; ok {
		return v, false, nil
	}
	if v, ok := r.s.ids[k]; ok {
		return v, false, nil
	}
	n, found, err := r.find(id)
	if err != nil {
		return 0, false, err
	}
	if found {
		return n.id, false, nil
	}
	n, found, err = r.insert(id)
	if err != nil {
		return 0, false, err
	}
	return n.id, !found, nil
}

func (r *resolver) hasEdges(caller int64) (bool, error) {
	var exists bool
	if err := r.stmt(r.s.stmts.hasEdges).QueryRowContext(r.ctx, caller).Scan(&exists); err != nil {
		return false, opError("has-outgoing-edges", err)
	}
	return exists, nil
}

func (r *resolver) updateLocation(rowID int64, id graph.Identity) error {
	if _, err := r.stmt(r.s.stmts.updateLocation).ExecContext(r.ctx, rowID, id.File, id.Line); err != nil {
		return opError("update-location "+id.Key().String(), err)
	}
	return nil
}

func (r *resolver) insertEdge(caller, callee int64) (bool, error) {
	st := r.s.stmts.insertEdge
	if r.s.opts.policy == EdgePolicyEdge {
		st = r.s.stmts.insertEdgeIgnore
	}
	res, err := r.stmt(st).ExecContext(r.ctx, caller, callee)
	if err != nil {
		return false, opError("insert-edge", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, opError("insert-edge", err)
	}
	return n > 0, nil
}

func (r *resolver) commit() error {
	if err := r.tx.Commit(); err != nil {
		return opError("commit", err)
	}
	for k, v := range r.pending {
		r.s.ids[k] = v
	}
	return nil
}
