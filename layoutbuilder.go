package tablon

import "fmt"

// LayoutBuilder constructs a Layout explicitly, field by field, for callers
// that have no Go struct to reflect over — e.g. a layout loaded from a DAT
// file header or assembled by a code generator. This is the "schema
// builder" alternative to reflection: runtime attribute scanning replaced
// by explicit calls, same recognized vocabulary.
type LayoutBuilder struct {
	name   string
	fields []FieldProperties
	err    error
}

// NewLayoutBuilder starts building an untyped layout with the given name.
func NewLayoutBuilder(name string) *LayoutBuilder {
	return &LayoutBuilder{name: name}
}

// Field appends a field, assigning it the next index. The zero value of f's
// Index/Name-dependent fields are filled in by Validate before storing.
func (b *LayoutBuilder) Field(f FieldProperties) *LayoutBuilder {
	if b.err != nil {
		return b
	}
	f.Index = len(b.fields)
	if err := f.Validate(); err != nil {
		b.err = err
		return b
	}
	b.fields = append(b.fields, f)
	return b
}

// Build finalizes the layout.
func (b *LayoutBuilder) Build() (*Layout, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.fields) == 0 {
		return nil, fmt.Errorf("%w: layout %q has no fields", ErrInvalidSchema, b.name)
	}
	return newLayout(b.name, append([]FieldProperties(nil), b.fields...), nil)
}
