package tablon

// FieldIndex maps a field's value to the rows that carry it. It backs the
// in-memory engine's index-accelerated Equals/In lookups; Greater/Smaller/
// Like always fall back to a table scan regardless of whether a field is
// indexed.
//
// Buckets are keyed by canonicalBytes(value), a hashmap rather than the
// ordered B-tree/skip-list structure a systems-language reimplementation
// could use for range scans: since only equality lookups are ever served
// from the index, there is nothing to gain from ordering buckets here.
type FieldIndex struct {
	fieldIndex int
	layout     *Layout
	buckets    map[string][]Row
	rowCount   int
}

func newFieldIndex(fieldIndex int, layout *Layout) *FieldIndex {
	return &FieldIndex{fieldIndex: fieldIndex, layout: layout, buckets: map[string][]Row{}}
}

func bucketKey(v any) string { return string(canonicalBytes(v)) }

// Add inserts row into the bucket for its current field value.
func (fi *FieldIndex) Add(row Row) {
	k := bucketKey(row.Value(fi.fieldIndex))
	fi.buckets[k] = append(fi.buckets[k], row)
	fi.rowCount++
}

// Delete removes the row matching row's identifier from the bucket for its
// current field value. Lookup within the bucket uses structural identifier
// equality, not reference identity.
func (fi *FieldIndex) Delete(row Row) {
	k := bucketKey(row.Value(fi.fieldIndex))
	bucket := fi.buckets[k]
	target := rowKey(fi.layout, row)
	for i, r := range bucket {
		if rowKey(fi.layout, r) == target {
			bucket = append(bucket[:i:i], bucket[i+1:]...)
			fi.rowCount--
			break
		}
	}
	if len(bucket) == 0 {
		delete(fi.buckets, k)
	} else {
		fi.buckets[k] = bucket
	}
}

// Replace removes oldRow and adds newRow, even when the indexed field's
// value is unchanged, since other fields of the stored row copy may have
// changed too.
func (fi *FieldIndex) Replace(oldRow, newRow Row) {
	fi.Delete(oldRow)
	fi.Add(newRow)
}

// Lookup returns the rows currently carrying value in this field, or nil if
// none do.
func (fi *FieldIndex) Lookup(value any) []Row {
	return fi.buckets[bucketKey(value)]
}

// Count returns the total number of rows indexed, which must equal the
// table's row count after every mutation.
func (fi *FieldIndex) Count() int { return fi.rowCount }

// Clear empties the index.
func (fi *FieldIndex) Clear() {
	fi.buckets = map[string][]Row{}
	fi.rowCount = 0
}
