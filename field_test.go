package tablon

import (
	"reflect"
	"testing"
	"time"
)

func loadField(t *testing.T, v any, fieldName string) FieldProperties {
	t.Helper()
	rt := reflect.TypeOf(v)
	sf, ok := rt.FieldByName(fieldName)
	if !ok {
		t.Fatalf("no field %q on %v", fieldName, rt)
	}
	var index int
	for i := 0; i < rt.NumField(); i++ {
		if rt.Field(i).Name == fieldName {
			index = i
		}
	}
	f, err := LoadFieldInfo(index, sf, nil)
	tcheck(t, err, "load field info")
	return f
}

func TestLoadFieldInfoNameOverride(t *testing.T) {
	type row struct {
		Login string `table:"name=user_login"`
	}
	f := loadField(t, row{}, "Login")
	if f.Name != "user_login" {
		t.Fatalf("Name = %q, want user_login", f.Name)
	}
	if f.NameAtDatabase != "user_login" {
		t.Fatalf("NameAtDatabase = %q, want user_login", f.NameAtDatabase)
	}
}

func TestLoadFieldInfoAlternativeNames(t *testing.T) {
	type row struct {
		Login string `table:"alt=login|username|handle"`
	}
	f := loadField(t, row{}, "Login")
	want := []string{"login", "username", "handle"}
	if !reflect.DeepEqual(f.AlternativeNames, want) {
		t.Fatalf("AlternativeNames = %#v, want %#v", f.AlternativeNames, want)
	}
}

func TestLoadFieldInfoLength(t *testing.T) {
	type row struct {
		Code string `table:"length=12"`
	}
	f := loadField(t, row{}, "Code")
	if f.MaximumLength != 12 {
		t.Fatalf("MaximumLength = %d, want 12", f.MaximumLength)
	}
}

func TestLoadFieldInfoLengthRejectsNonInteger(t *testing.T) {
	type row struct {
		Code string `table:"length=abc"`
	}
	rt := reflect.TypeOf(row{})
	sf, _ := rt.FieldByName("Code")
	_, err := LoadFieldInfo(0, sf, nil)
	tneed(t, err, ErrInvalidSchema, "bad length")
}

func TestLoadFieldInfoNullableFlag(t *testing.T) {
	type row struct {
		Nick string `table:"nullable"`
	}
	f := loadField(t, row{}, "Nick")
	if !f.Flags.Has(FlagNullable) {
		t.Fatalf("FlagNullable not set from explicit tag")
	}
}

func TestLoadFieldInfoNullableFromPointer(t *testing.T) {
	type row struct {
		Nick *string
	}
	f := loadField(t, row{}, "Nick")
	if !f.Flags.Has(FlagNullable) {
		t.Fatalf("pointer field did not imply FlagNullable")
	}
	if f.DataType != String {
		t.Fatalf("DataType = %v, want String (unwrapped pointer)", f.DataType)
	}
}

func TestLoadFieldInfoUniqueFlag(t *testing.T) {
	type row struct {
		Email string `table:"unique"`
	}
	f := loadField(t, row{}, "Email")
	if !f.Flags.Has(FlagUnique) {
		t.Fatalf("FlagUnique not set")
	}
}

func TestLoadFieldInfoComposedFlags(t *testing.T) {
	type row struct {
		ID int64 `table:"id,autoincrement"`
	}
	f := loadField(t, row{}, "ID")
	if !f.Flags.Has(FlagID) || !f.Flags.Has(FlagAutoIncrement) {
		t.Fatalf("Flags = %v, want ID|AutoIncrement", f.Flags)
	}
}

func TestLoadFieldInfoDateTimeFormat(t *testing.T) {
	type row struct {
		Created time.Time `table:"dt=Utc+BigIntMilliSeconds"`
	}
	f := loadField(t, row{}, "Created")
	if f.DateTimeKind != UTC {
		t.Fatalf("DateTimeKind = %v, want UTC", f.DateTimeKind)
	}
	if f.DateTimeType != BigIntMilliSeconds {
		t.Fatalf("DateTimeType = %v, want BigIntMilliSeconds", f.DateTimeType)
	}
	if f.DatabaseDataType != Int64 {
		t.Fatalf("DatabaseDataType = %v, want Int64", f.DatabaseDataType)
	}
}

func TestLoadFieldInfoTimeSpanFormat(t *testing.T) {
	type row struct {
		Elapsed time.Duration `table:"ts=BigIntSeconds"`
	}
	f := loadField(t, row{}, "Elapsed")
	if f.DateTimeType != BigIntSeconds {
		t.Fatalf("DateTimeType = %v, want BigIntSeconds", f.DateTimeType)
	}
}

func TestLoadFieldInfoStringEncoding(t *testing.T) {
	type row struct {
		Name string `table:"enc=UTF16"`
	}
	f := loadField(t, row{}, "Name")
	if f.StringEncoding != UTF16 {
		t.Fatalf("StringEncoding = %v, want UTF16", f.StringEncoding)
	}
}

func TestLoadFieldInfoDefaultAndDescription(t *testing.T) {
	type row struct {
		Status string `table:"default=open,desc=lifecycle state"`
	}
	f := loadField(t, row{}, "Status")
	if f.DefaultValue != "open" {
		t.Fatalf("DefaultValue = %v, want open", f.DefaultValue)
	}
	if f.Description != "lifecycle state" {
		t.Fatalf("Description = %q, want lifecycle state", f.Description)
	}
}

func TestLoadFieldInfoDisplayFormat(t *testing.T) {
	type row struct {
		Amount float64 `table:"kind=Decimal,display=C2"`
	}
	f := loadField(t, row{}, "Amount")
	if f.DisplayFormat != "C2" {
		t.Fatalf("DisplayFormat = %q, want C2", f.DisplayFormat)
	}
}
