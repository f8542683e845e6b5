package dbus

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/ferrouswire/dbus/fragments"
)

// Marshal encodes v as a DBus value of the type described by sig,
// returning the wire bytes in the given byte order.
//
// Marshal traverses v recursively, converting it to the dynamic value
// tree understood by [Writer], then writing that tree with sig as the
// authoritative type description. Go values map onto DBus types as
// follows:
//
// Any integer kind, float32/float64, bool, and string values encode
// to the basic DBus type sig calls for at that position, with range
// checking against the target type's representable bounds.
//
// Array and slice values encode as DBus arrays; a nil slice encodes
// the same as an empty one. []byte encodes directly as a DBus byte
// array without per-element overhead.
//
// Struct values encode as DBus structs, one exported field per
// struct field, in declaration order.
//
// Map values encode as a DBus dict. The map's key type must be a
// basic DBus type.
//
// At a variant ('v') position, the value's DBus type is inferred from
// its dynamic Go type (looking through an interface such as `any`),
// and it encodes as a DBus variant. A [Variant] value with a non-nil
// Sig is written as is; one with a nil Sig has its signature inferred
// from its Value. At any other position, an interface value encodes
// its dynamic value against sig.
func Marshal(order fragments.ByteOrder, sig string, v any) ([]byte, error) {
	t, err := ParseOne(sig)
	if err != nil {
		return nil, err
	}
	dyn, err := toDynamic(t, reflect.ValueOf(v))
	if err != nil {
		return nil, err
	}
	enc := fragments.Encoder{Order: order}
	if err := writeValue(&enc, t, dyn); err != nil {
		return nil, err
	}
	return enc.Out, nil
}

// Unmarshal decodes bs, interpreted as a DBus value of the type
// described by sig, into out, which must be a non-nil pointer.
func Unmarshal(order fragments.ByteOrder, sig string, bs []byte, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("Unmarshal out parameter must be a non-nil pointer, got %T", out)
	}
	t, err := ParseOne(sig)
	if err != nil {
		return err
	}
	dec := fragments.Decoder{Order: order, In: bytes.NewReader(bs)}
	dyn, err := readValue(&dec, t)
	if err != nil {
		return err
	}
	return fromDynamic(dyn, rv.Elem())
}

// toDynamic converts v, a Go value being marshalled against t, into
// the dynamic value tree [writeValue] understands: bool, int64 or
// uint64 for every integer kind (range-checked against t by
// writeValue), float64, string, []byte, []any, Struct, Dict, Variant.
func toDynamic(t *Type, v reflect.Value) (any, error) {
	for v.IsValid() && v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v = reflect.Zero(v.Type().Elem())
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, fmt.Errorf("cannot encode an invalid value for signature %q", t.String())
	}

	if f, ok := v.Interface().(File); ok && t.Kind == KindPrimitive && t.Code == TypeUnixFD {
		return f.Index, nil
	}

	if t.Kind == KindVariant {
		inner := v
		if existing, ok := v.Interface().(Variant); ok {
			if existing.Sig != nil {
				return existing, nil
			}
			inner = reflect.ValueOf(existing.Value)
			if !inner.IsValid() {
				return nil, fmt.Errorf("cannot encode a nil interface as a variant")
			}
		}
		if inner.Kind() == reflect.Interface {
			if inner.IsNil() {
				return nil, fmt.Errorf("cannot encode a nil interface as a variant")
			}
			inner = inner.Elem()
		}
		innerType, err := typeForGoType(inner.Type())
		if err != nil {
			return nil, err
		}
		innerDyn, err := toDynamic(innerType, inner)
		if err != nil {
			return nil, err
		}
		return Variant{Sig: innerType, Value: innerDyn}, nil
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.String:
		return v.String(), nil
	case reflect.Slice, reflect.Array:
		if t.Kind != KindArray {
			return nil, fmt.Errorf("signature %q cannot hold a slice or array value", t.String())
		}
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Bytes(), nil
		}
		items := make([]any, v.Len())
		for i := range items {
			item, err := toDynamic(t.Elem, v.Index(i))
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return items, nil
	case reflect.Struct:
		if t.Kind != KindStruct {
			return nil, fmt.Errorf("signature %q cannot hold a struct value", t.String())
		}
		fields := exportedFields(v.Type())
		if len(fields) != len(t.Fields) {
			return nil, fmt.Errorf("signature %q describes %d fields, struct %s has %d", t.String(), len(t.Fields), v.Type(), len(fields))
		}
		out := make(Struct, len(fields))
		for i, idx := range fields {
			fv, err := toDynamic(t.Fields[i], v.FieldByIndex(idx))
			if err != nil {
				return nil, err
			}
			out[i] = fv
		}
		return out, nil
	case reflect.Map:
		if t.Kind != KindArray || t.Elem.Kind != KindDictEntry {
			return nil, fmt.Errorf("signature %q cannot hold a map value", t.String())
		}
		keys := v.MapKeys()
		dict := make(Dict, 0, len(keys))
		for _, k := range keys {
			kd, err := toDynamic(t.Elem.Key, k)
			if err != nil {
				return nil, err
			}
			vd, err := toDynamic(t.Elem.Value, v.MapIndex(k))
			if err != nil {
				return nil, err
			}
			dict = append(dict, DictEntry{Key: kd, Value: vd})
		}
		return dict, nil
	case reflect.Interface:
		if v.IsNil() {
			return nil, fmt.Errorf("cannot encode a nil interface for signature %q", t.String())
		}
		return toDynamic(t, v.Elem())
	}
	return nil, fmt.Errorf("no DBus encoding for Go type %s", v.Type())
}

// fromDynamic stores dyn, a value produced by [readValue], into out.
func fromDynamic(dyn any, out reflect.Value) error {
	for out.Kind() == reflect.Pointer {
		if out.IsNil() {
			out.Set(reflect.New(out.Type().Elem()))
		}
		out = out.Elem()
	}

	if out.Type() == reflect.TypeFor[File]() {
		u, ok := asUint64(dyn)
		if !ok {
			return fmt.Errorf("cannot store %T into dbus.File", dyn)
		}
		out.Set(reflect.ValueOf(File{Index: uint32(u)}))
		return nil
	}

	if out.Kind() == reflect.Interface && out.NumMethod() == 0 {
		out.Set(reflect.ValueOf(unwrapVariant(dyn)))
		return nil
	}

	if variant, ok := dyn.(Variant); ok {
		return fromDynamic(variant.Value, out)
	}

	switch out.Kind() {
	case reflect.Bool:
		b, ok := dyn.(bool)
		if !ok {
			return fmt.Errorf("cannot store %T into bool", dyn)
		}
		out.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := asInt64(dyn)
		if !ok {
			return fmt.Errorf("cannot store %T into %s", dyn, out.Type())
		}
		out.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, ok := asUint64(dyn)
		if !ok {
			return fmt.Errorf("cannot store %T into %s", dyn, out.Type())
		}
		out.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, ok := asFloat64(dyn)
		if !ok {
			return fmt.Errorf("cannot store %T into %s", dyn, out.Type())
		}
		out.SetFloat(f)
	case reflect.String:
		s, ok := asString(dyn)
		if !ok {
			return fmt.Errorf("cannot store %T into string", dyn)
		}
		out.SetString(s)
	case reflect.Slice:
		if bs, ok := dyn.([]byte); ok && out.Type().Elem().Kind() == reflect.Uint8 {
			out.SetBytes(bs)
			return nil
		}
		items, ok := dyn.([]any)
		if !ok {
			return fmt.Errorf("cannot store %T into %s", dyn, out.Type())
		}
		slice := reflect.MakeSlice(out.Type(), len(items), len(items))
		for i, item := range items {
			if err := fromDynamic(item, slice.Index(i)); err != nil {
				return err
			}
		}
		out.Set(slice)
	case reflect.Struct:
		fields, ok := dyn.(Struct)
		if !ok {
			return fmt.Errorf("cannot store %T into struct %s", dyn, out.Type())
		}
		idxs := exportedFields(out.Type())
		if len(idxs) != len(fields) {
			return fmt.Errorf("struct %s has %d fields, value has %d", out.Type(), len(idxs), len(fields))
		}
		for i, idx := range idxs {
			if err := fromDynamic(fields[i], out.FieldByIndex(idx)); err != nil {
				return err
			}
		}
	case reflect.Map:
		dict, err := asDict(dyn)
		if err != nil {
			return err
		}
		m := reflect.MakeMapWithSize(out.Type(), len(dict))
		for _, pair := range dict {
			k := reflect.New(out.Type().Key()).Elem()
			if err := fromDynamic(pair.Key, k); err != nil {
				return err
			}
			v := reflect.New(out.Type().Elem()).Elem()
			if err := fromDynamic(pair.Value, v); err != nil {
				return err
			}
			m.SetMapIndex(k, v)
		}
		out.Set(m)
	default:
		return fmt.Errorf("cannot store a DBus value into Go type %s", out.Type())
	}
	return nil
}

func unwrapVariant(dyn any) any {
	if v, ok := dyn.(Variant); ok {
		return unwrapVariant(v.Value)
	}
	return dyn
}

// exportedFields returns the field indexes (for use with
// reflect.Value.FieldByIndex) of t's exported, non-embedded-only
// fields, in declaration order.
func exportedFields(t reflect.Type) [][]int {
	var idxs [][]int
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		idxs = append(idxs, []int{i})
	}
	return idxs
}

// typeForGoType infers the DBus [Type] a Go static type maps onto, for
// building a [Variant]'s signature automatically during [Marshal].
func typeForGoType(t reflect.Type) (*Type, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == reflect.TypeFor[File]() {
		return &Type{Kind: KindPrimitive, Code: TypeUnixFD}, nil
	}
	switch t.Kind() {
	case reflect.Bool:
		return &Type{Kind: KindPrimitive, Code: TypeBoolean}, nil
	case reflect.Int8, reflect.Uint8:
		return &Type{Kind: KindPrimitive, Code: TypeByte}, nil
	case reflect.Int16:
		return &Type{Kind: KindPrimitive, Code: TypeInt16}, nil
	case reflect.Uint16:
		return &Type{Kind: KindPrimitive, Code: TypeUint16}, nil
	case reflect.Int, reflect.Int32:
		return &Type{Kind: KindPrimitive, Code: TypeInt32}, nil
	case reflect.Uint, reflect.Uint32:
		return &Type{Kind: KindPrimitive, Code: TypeUint32}, nil
	case reflect.Int64:
		return &Type{Kind: KindPrimitive, Code: TypeInt64}, nil
	case reflect.Uint64:
		return &Type{Kind: KindPrimitive, Code: TypeUint64}, nil
	case reflect.Float32, reflect.Float64:
		return &Type{Kind: KindPrimitive, Code: TypeDouble}, nil
	case reflect.String:
		switch t {
		case reflect.TypeFor[ObjectPath]():
			return &Type{Kind: KindPrimitive, Code: TypeObjectPath}, nil
		case reflect.TypeFor[Signature]():
			return &Type{Kind: KindPrimitive, Code: TypeSignature}, nil
		}
		return &Type{Kind: KindPrimitive, Code: TypeString}, nil
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return &Type{Kind: KindArray, Elem: &Type{Kind: KindPrimitive, Code: TypeByte}}, nil
		}
		elem, err := typeForGoType(t.Elem())
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindArray, Elem: elem}, nil
	case reflect.Struct:
		var fields []*Type
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue
			}
			ft, err := typeForGoType(f.Type)
			if err != nil {
				return nil, err
			}
			fields = append(fields, ft)
		}
		if len(fields) == 0 {
			return nil, fmt.Errorf("struct %s has no exported fields to encode", t)
		}
		return &Type{Kind: KindStruct, Fields: fields}, nil
	case reflect.Map:
		kt, err := typeForGoType(t.Key())
		if err != nil {
			return nil, err
		}
		if !kt.IsBasic() {
			return nil, fmt.Errorf("map key type %s is not a basic DBus type", t.Key())
		}
		vt, err := typeForGoType(t.Elem())
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindArray, Elem: &Type{Kind: KindDictEntry, Key: kt, Value: vt}}, nil
	case reflect.Interface:
		return &Type{Kind: KindVariant}, nil
	}
	return nil, fmt.Errorf("no DBus type mapping for Go type %s", t)
}

// SignatureOf returns the DBus type signature that [Marshal] would
// use to encode a value of v's type.
func SignatureOf(v any) (string, error) {
	t, err := typeForGoType(reflect.TypeOf(v))
	if err != nil {
		return "", err
	}
	return t.String(), nil
}
