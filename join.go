package reldb

import (
	"bytes"
)

// Join opens a recordset over the records that appear in every member, in
// primary key order. Members must be fresh ScanKey recordsets over indexes
// of this table. The join takes them over: they can no longer be fetched or
// rewound, and they are released when the join is closed.
func (tbl *Table) Join(members ...*Recordset) (*Recordset, error) {
	const op = "join"
	db := tbl.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := tbl.checkLocked(op); err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, tableErrf(Unknown, op, tbl, nil, nil, nil, "nothing to join")
	}

	seen := make(map[*Recordset]bool, len(members))
	for _, m := range members {
		if m == nil || seen[m] {
			return nil, tableErrf(Unknown, op, tbl, nil, nil, nil, "join members must be distinct")
		}
		seen[m] = true
		if err := m.checkLocked(op); err != nil {
			return nil, err
		}
		if m.kind != keyScan {
			return nil, tableErrf(Unknown, op, tbl, m.index, nil, nil, "join member must be bound to an index key, got a %v scan", m.kind)
		}
		if m.table != tbl {
			return nil, tableErrf(Unknown, op, tbl, m.index, nil, nil, "join member belongs to table %s", m.table.name)
		}
		if m.isset {
			return nil, tableErrf(Unknown, op, tbl, m.index, nil, nil, "join member was already fetched from")
		}
	}

	rs := &Recordset{
		db:      db,
		kind:    joinScan,
		table:   tbl,
		txn:     db.top(),
		members: append([]*Recordset(nil), members...),
	}
	for _, m := range members {
		m.consumed = true
		delete(db.recordsets, m)
	}
	db.recordsets[rs] = struct{}{}
	return rs, nil
}

// joinNextLocked returns the next primary key present in all members, or
// nil when the join is exhausted. Members are merged by seeking each one
// that is behind to the largest current primary key until they all agree.
func (rs *Recordset) joinNextLocked() ([]byte, error) {
	const op = "fetch"
	if rs.exhausted {
		return nil, nil
	}

	first := rs.current == nil
	if first {
		rs.current = make([][]byte, len(rs.members))
	}
	for i, m := range rs.members {
		var k, pk []byte
		var err error
		if first {
			k, pk, err = m.cursor.First()
		} else {
			k, pk, err = m.cursor.Next()
		}
		if err != nil {
			return nil, tableErrf(Unknown, op, rs.table, m.index, nil, err, "")
		}
		if k == nil {
			rs.exhausted = true
			return nil, nil
		}
		m.isset = true
		rs.current[i] = pk
	}

	for {
		target := rs.current[0]
		for _, pk := range rs.current[1:] {
			if bytes.Compare(pk, target) > 0 {
				target = pk
			}
		}

		behind := false
		for i, m := range rs.members {
			if bytes.Compare(rs.current[i], target) >= 0 {
				continue
			}
			behind = true
			seek := append(clone(m.prefix), target...)
			k, pk, err := m.cursor.Seek(seek)
			if err != nil {
				return nil, tableErrf(Unknown, op, rs.table, m.index, nil, err, "")
			}
			if k == nil {
				rs.exhausted = true
				return nil, nil
			}
			rs.current[i] = pk
		}
		if !behind {
			return target, nil
		}
	}
}
