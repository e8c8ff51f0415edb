package ir

import "slices"

// Typed accessors over instance data. A missing key and IRNull both read as
// absent.

// Has reports whether key holds a non-null value.
func (obj IRObject) Has(key string) bool {
	v, ok := obj[key]
	if !ok {
		return false
	}
	_, isNull := v.(IRNull)
	return !isNull
}

// Int returns the integer under key.
func (obj IRObject) Int(key string) (int64, bool) {
	v, ok := obj[key].(IRInt)
	return int64(v), ok
}

// IntOr returns the integer under key or def.
func (obj IRObject) IntOr(key string, def int64) int64 {
	if v, ok := obj.Int(key); ok {
		return v
	}
	return def
}

// String returns the string under key.
func (obj IRObject) String(key string) (string, bool) {
	v, ok := obj[key].(IRString)
	return string(v), ok
}

// StringOr returns the string under key or def.
func (obj IRObject) StringOr(key, def string) string {
	if v, ok := obj.String(key); ok {
		return v
	}
	return def
}

// Bool returns the boolean under key; absent reads as false.
func (obj IRObject) Bool(key string) bool {
	v, _ := obj[key].(IRBool)
	return bool(v)
}

// IntList returns the integers under key, skipping non-integer elements.
func (obj IRObject) IntList(key string) []int64 {
	return AsIntList(obj[key])
}

// StringList returns the strings under key, skipping non-string elements.
func (obj IRObject) StringList(key string) []string {
	arr, _ := obj[key].(IRArray)
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(IRString); ok {
			out = append(out, string(s))
		}
	}
	return out
}

// FQIDList returns the FQIDs under key.
func (obj IRObject) FQIDList(key string) []FQID {
	strs := obj.StringList(key)
	out := make([]FQID, 0, len(strs))
	for _, s := range strs {
		out = append(out, FQID(s))
	}
	return out
}

// Clone returns a shallow copy. Values are immutable by convention.
func (obj IRObject) Clone() IRObject {
	out := make(IRObject, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}

// Merge copies patch over obj. A null in patch removes the key.
func (obj IRObject) Merge(patch IRObject) IRObject {
	out := obj.Clone()
	for k, v := range patch {
		if _, isNull := v.(IRNull); isNull {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Project keeps only the named fields. An empty field list keeps everything.
func (obj IRObject) Project(fields []string) IRObject {
	if len(fields) == 0 {
		return obj.Clone()
	}
	out := make(IRObject, len(fields))
	for _, f := range fields {
		if v, ok := obj[f]; ok {
			out[f] = v
		}
	}
	return out
}

// AsIntList reads an IRArray of IRInt.
func AsIntList(v IRValue) []int64 {
	arr, _ := v.(IRArray)
	out := make([]int64, 0, len(arr))
	for _, e := range arr {
		if n, ok := e.(IRInt); ok {
			out = append(out, int64(n))
		}
	}
	return out
}

// Ints builds an IRArray of IRInt.
func Ints(ids ...int64) IRArray {
	arr := make(IRArray, len(ids))
	for i, id := range ids {
		arr[i] = IRInt(id)
	}
	return arr
}

// Strings builds an IRArray of IRString.
func Strings(ss ...string) IRArray {
	arr := make(IRArray, len(ss))
	for i, s := range ss {
		arr[i] = IRString(s)
	}
	return arr
}

// FQIDs builds an IRArray from FQIDs.
func FQIDs(fqids ...FQID) IRArray {
	arr := make(IRArray, len(fqids))
	for i, f := range fqids {
		arr[i] = IRString(f)
	}
	return arr
}

// Equal reports deep equality of two values. Absent (nil) equals IRNull.
func Equal(a, b IRValue) bool {
	if isNullish(a) || isNullish(b) {
		return isNullish(a) && isNullish(b)
	}
	switch av := a.(type) {
	case IRString, IRInt, IRBool:
		return a == b
	case IRArray:
		bv, ok := b.(IRArray)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case IRObject:
		bv, ok := b.(IRObject)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !Equal(v, bv[k]) {
				return false
			}
		}
		return true
	}
	return false
}

func isNullish(v IRValue) bool {
	if v == nil {
		return true
	}
	_, ok := v.(IRNull)
	return ok
}

// IsEmpty reports whether a field value counts as empty for required checks:
// absent, null, "", or an empty list.
func IsEmpty(v IRValue) bool {
	switch val := v.(type) {
	case nil, IRNull:
		return true
	case IRString:
		return val == ""
	case IRArray:
		return len(val) == 0
	}
	return false
}

// SortedIDs returns a sorted copy of ids.
func SortedIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}
