// Copyright (c) 2025 COREGX. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package core

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/coregx/recora/internal/schema"
)

// RelationContext batches and caches relation loads for one result set.
// The first access to a relation on any record issues a single query
// for every sibling in the context; later accesses, on any sibling, are
// cache hits. A cache slot is occupied by a promise the moment a load
// starts, so concurrent accessors of the same relation wait for one
// in-flight query instead of issuing their own.
type RelationContext struct {
	client  *Client
	records []*Record

	mu      chan struct{} // 1-slot semaphore guarding entries
	entries map[entryKey]*relationEntry
}

type entryKey struct {
	rec *Record
	rel string
}

// relationEntry is one cache slot: a promise while the batched query is
// in flight, a settled result after done closes.
type relationEntry struct {
	done chan struct{}
	many []*Record
	one  *Record
	err  error
}

// attachContext wires a result set into one shared relation context.
func (c *Client) attachContext(records []*Record) *RelationContext {
	rc := &RelationContext{
		client:  c,
		records: records,
		mu:      make(chan struct{}, 1),
		entries: make(map[entryKey]*relationEntry),
	}
	for _, rec := range records {
		rec.rctx = rc
	}
	return rc
}

// NewRelationContext groups externally obtained records of one table
// into a fresh context so relation access on them batches.
func (c *Client) NewRelationContext(records []*Record) *RelationContext {
	return c.attachContext(records)
}

// Records returns the records attached to this context.
func (rc *RelationContext) Records() []*Record { return rc.records }

func (rc *RelationContext) lock(ctx context.Context) error {
	select {
	case rc.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rc *RelationContext) unlock() { <-rc.mu }

// LoadMany resolves a HasMany relation for one record.
func (rc *RelationContext) LoadMany(ctx context.Context, rec *Record, relation string) ([]*Record, error) {
	if rc == nil {
		return nil, &ConditionError{Column: relation, Reason: "record is not attached to a relation context"}
	}
	rel, ok := rec.table.Relation(relation)
	if !ok {
		return nil, fmt.Errorf("recora: unknown relation %q on table %q", relation, rec.table.Name())
	}
	if rel.Kind() != schema.HasMany {
		return nil, fmt.Errorf("recora: relation %q on table %q is %s, not has_many", relation, rec.table.Name(), rel.Kind())
	}
	entry, err := rc.loadEntry(ctx, rec, rel)
	if err != nil {
		return nil, err
	}
	return entry.many, entry.err
}

// LoadOne resolves a HasOne or BelongsTo relation for one record. A
// missing target row yields nil without error.
func (rc *RelationContext) LoadOne(ctx context.Context, rec *Record, relation string) (*Record, error) {
	if rc == nil {
		return nil, &ConditionError{Column: relation, Reason: "record is not attached to a relation context"}
	}
	rel, ok := rec.table.Relation(relation)
	if !ok {
		return nil, fmt.Errorf("recora: unknown relation %q on table %q", relation, rec.table.Name())
	}
	if rel.Kind() == schema.HasMany {
		return nil, fmt.Errorf("recora: relation %q on table %q is has_many, use Many", relation, rec.table.Name())
	}
	entry, err := rc.loadEntry(ctx, rec, rel)
	if err != nil {
		return nil, err
	}
	return entry.one, entry.err
}

// Preload forces the batched load of one relation for every record in
// the context, so later per-record access never touches the database.
func (rc *RelationContext) Preload(ctx context.Context, relation string) error {
	if len(rc.records) == 0 {
		return nil
	}
	rec := rc.records[0]
	rel, ok := rec.table.Relation(relation)
	if !ok {
		return fmt.Errorf("recora: unknown relation %q on table %q", relation, rec.table.Name())
	}
	entry, err := rc.loadEntry(ctx, rec, rel)
	if err != nil {
		return err
	}
	return entry.err
}

// PreloadAll preloads several relations concurrently. Each relation
// still resolves with its single batched query.
func (rc *RelationContext) PreloadAll(ctx context.Context, relations ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, relation := range relations {
		relation := relation
		g.Go(func() error {
			return rc.Preload(ctx, relation)
		})
	}
	return g.Wait()
}

// loadEntry implements the promise-occupies-slot protocol: a cache hit
// awaits the slot's promise; a miss reserves slots for every sibling
// that lacks one, releases the lock, and resolves them with one query.
func (rc *RelationContext) loadEntry(ctx context.Context, rec *Record, rel *schema.RelationDef) (*relationEntry, error) {
	key := entryKey{rec: rec, rel: rel.Name()}

	if err := rc.lock(ctx); err != nil {
		return nil, err
	}
	if entry, ok := rc.entries[key]; ok {
		rc.unlock()
		select {
		case <-entry.done:
			return entry, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Miss: reserve a slot for every sibling of the same table that
	// does not have one yet, this record included.
	batch := make([]*Record, 0, len(rc.records))
	reserved := make(map[*Record]*relationEntry)
	for _, sib := range rc.records {
		if sib.table != rec.table {
			continue
		}
		k := entryKey{rec: sib, rel: rel.Name()}
		if _, exists := rc.entries[k]; exists {
			continue
		}
		entry := &relationEntry{done: make(chan struct{})}
		rc.entries[k] = entry
		reserved[sib] = entry
		batch = append(batch, sib)
	}
	rc.unlock()

	rc.resolve(ctx, rel, batch, reserved)

	entry := reserved[rec]
	return entry, nil
}

// resolve runs the batched query for the reserved records and settles
// their promises. Relation queries route through the Rows middlewares
// only; verb hooks never see them.
func (rc *RelationContext) resolve(ctx context.Context, rel *schema.RelationDef, batch []*Record, reserved map[*Record]*relationEntry) {
	defer func() {
		for _, entry := range reserved {
			close(entry.done)
		}
	}()

	sourceKeys := rel.SourceKeys()

	// Collect source-key tuples. A record with any nil key component
	// resolves empty without touching the database. Duplicate tuples
	// collapse to one membership entry.
	type parent struct {
		rec   *Record
		fp    string
		nullK bool
	}
	parents := make([]parent, len(batch))
	var tuples [][]any
	seen := make(map[string]bool)
	for i, rec := range batch {
		tuple := make([]any, len(sourceKeys))
		null := false
		for j, col := range sourceKeys {
			v := rec.values[col.Name()]
			if v == nil {
				null = true
			}
			tuple[j] = v
		}
		fp := fingerprint(tuple)
		parents[i] = parent{rec: rec, fp: fp, nullK: null}
		if !null && !seen[fp] {
			seen[fp] = true
			tuples = append(tuples, tuple)
		}
	}

	fail := func(err error) {
		for _, entry := range reserved {
			entry.err = err
		}
	}

	if len(tuples) == 0 {
		return
	}

	limit := rel.Limit()
	hard := rel.HardLimit()
	switch hard {
	case schema.HardLimitDefault:
		hard = rc.client.maxRows
	case schema.HardLimitNone:
		hard = 0
	}

	// fetch bounds rows per parent in the query itself: the declared
	// limit when one is set, otherwise one past the hard ceiling so an
	// overflow is observable.
	fetch := 0
	if limit > 0 {
		fetch = limit
	} else if hard > 0 {
		fetch = hard + 1
	}

	comp := newCompiler(rc.client.dialect, batch[0].table)
	stmt, err := comp.relationBatch(rel, tuples, fetch)
	if err != nil {
		fail(err)
		return
	}
	rows, err := rc.client.runRows(ctx, stmt)
	if err != nil {
		fail(err)
		return
	}

	// Partition results by target-key fingerprint. Targets are shared:
	// two parents with the same key tuple see the same *Record.
	target := rel.Target()
	targetKeys := rel.TargetKeys()
	targets := make([]*Record, len(rows))
	groups := make(map[string][]*Record, len(tuples))
	for i, row := range rows {
		t := newRecord(target, row)
		targets[i] = t
		tuple := make([]any, len(targetKeys))
		for j, col := range targetKeys {
			tuple[j] = row[col.Name()]
		}
		fp := fingerprint(tuple)
		groups[fp] = append(groups[fp], t)
	}
	// Loaded targets share a fresh context, so relation access on them
	// batches one level deeper.
	rc.client.attachContext(targets)

	many := rel.Kind() == schema.HasMany
	for _, p := range parents {
		entry := reserved[p.rec]
		if p.nullK {
			continue
		}
		group := groups[p.fp]
		if limit == 0 && hard > 0 && len(group) > hard {
			fail(&LimitExceededError{
				Limit:    hard,
				Actual:   len(group),
				Context:  "relation",
				Model:    target.Name(),
				Relation: rel.Name(),
			})
			return
		}
		// Dialects without window functions run the unbounded query;
		// the declared limit is applied here instead.
		if limit > 0 && len(group) > limit {
			group = group[:limit]
		}
		if many {
			entry.many = group
		} else if len(group) > 0 {
			entry.one = group[0]
		}
	}
}

// fingerprint folds a key tuple into a comparison key. Numeric values
// of different Go widths fingerprint identically, so driver-returned
// int64 keys match user-supplied int keys.
func fingerprint(values []any) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		switch t := v.(type) {
		case nil:
			b.WriteByte(0x00)
		case []byte:
			b.Write(t)
		case string:
			b.WriteString(t)
		default:
			fmt.Fprintf(&b, "%v", t)
		}
	}
	return b.String()
}
