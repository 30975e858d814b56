/*
Package reldb implements relational tables on top of an ordered,
transactional key-value store (in this case, on top of Bolt; see the engine
subpackage).

We implement:

1. Tables, collections of records with unique primary keys, kept in primary
key order.

2. Indexes, secondary keys derived from records by an Extractor, unique or
with duplicates, maintained on every insert, update and remove.

3. Foreign keys, declared on an index, with abort, cascade or nullify
behavior when the referenced record is removed.

4. Recordsets, cursors over a table, an index, one index key, or the
natural join of several index keys.

5. Sequences, persistent int64 counters.

6. Nested transactions, committed or rolled back one level at a time.

# Technical Details

**Ordering.**
Bolt orders keys by their bytes. Keys are encoded with a Codec whose output
order defines the order of records; the default Ordered codec preserves the
natural order of strings, numbers and structs of them.

**Buckets.**
Each table lives in bucket "<table>.db", each index in "<table>.<index>.ix",
and all sequences in "__seq".

**Index entries.**
The key of an index entry is the framed index key (plus the primary key for
non-unique indexes); the value is the primary key.

**Transactions.**
A Database always has a lifetime transaction open; it is committed by Close
or Checkpoint. BeginTransaction nests a transaction inside the current one.
Every Insert, Update and Remove additionally runs inside its own nested
transaction, so a failed operation, including a partially applied cascade,
leaves no trace.

**Schema.**
Only the data is persisted. Indexes and foreign keys are declared in code
and must be added every time a table is opened.
*/
package reldb
