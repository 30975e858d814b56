package reldb

// Record is a stored record as seen by extraction and nullify strategies.
type Record struct {
	Key  []byte
	Data []byte

	table *Table
}

func (r Record) Table() *Table {
	return r.table
}

// DecodeKey decodes the primary key with the table's key codec.
func (r Record) DecodeKey(out any) error {
	return r.table.keys.Decode(r.Key, out)
}

// DecodeData decodes the record with the table's data codec.
func (r Record) DecodeData(out any) error {
	return r.table.data.Decode(r.Data, out)
}

// Extractor derives the secondary key of a record. Returning ok=false
// leaves the record out of the index.
type Extractor interface {
	Extract(rec Record) (indexKey any, ok bool, err error)
}

type ExtractFunc func(rec Record) (indexKey any, ok bool, err error)

func (f ExtractFunc) Extract(rec Record) (any, bool, error) {
	return f(rec)
}

// ExtractData builds an Extractor from a function of the decoded record.
func ExtractData[D, K any](f func(data *D) (K, bool)) Extractor {
	return ExtractFunc(func(rec Record) (any, bool, error) {
		var data D
		if err := rec.DecodeData(&data); err != nil {
			return nil, false, err
		}
		ik, ok := f(&data)
		if !ok {
			return nil, false, nil
		}
		return ik, true, nil
	})
}

// Nullifier rewrites a record whose foreign key references a record that is
// being removed. foreignKey is the encoded key of that record. Returning
// ok=false refuses the removal.
type Nullifier interface {
	Nullify(rec Record, foreignKey []byte) (newData any, ok bool, err error)
}

type NullifyFunc func(rec Record, foreignKey []byte) (newData any, ok bool, err error)

func (f NullifyFunc) Nullify(rec Record, foreignKey []byte) (any, bool, error) {
	return f(rec, foreignKey)
}

// NullifyData builds a Nullifier that decodes the record, lets f modify it,
// and stores the result.
func NullifyData[D any](f func(data *D) bool) Nullifier {
	return NullifyFunc(func(rec Record, _ []byte) (any, bool, error) {
		data := new(D)
		if err := rec.DecodeData(data); err != nil {
			return nil, false, err
		}
		if !f(data) {
			return nil, false, nil
		}
		return data, true, nil
	})
}
