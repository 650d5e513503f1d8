package cbor

import "golang.org/x/exp/constraints"

// Marshal encodes v to a standalone byte slice.
func Marshal(v CborValue) ([]byte, error) {
	buf := NewMemoryBuffer()
	enc := NewEncoder(buf)
	if err := enc.Value(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a single root value from data, failing with ErrNotAtEnd
// wrapped in a DecodeException if any bytes remain afterward.
func Unmarshal(data []byte) (CborValue, error) {
	buf := NewMemoryBuffer()
	buf.ResetView(data)
	dec := NewDecoder(buf)
	v, err := dec.Value()
	if err != nil {
		return CborValue{}, err
	}
	if buf.CanRead(1) {
		return CborValue{}, &DecodeException{Err: ErrNotAtEnd, Offset: int(dec.CurrentOffset())}
	}
	return v, nil
}

// EncodeList writes items as a definite-length array, calling encode for
// each element in order.
func EncodeList[T any](e *Encoder, items []T, encode func(*Encoder, T) error) error {
	return e.Array(len(items), func(e *Encoder) error {
		for _, item := range items {
			if err := encode(e, item); err != nil {
				return err
			}
		}
		return nil
	})
}

// DecodeList reads a definite or indefinite-length array into a slice,
// calling decode for each element.
func DecodeList[T any](d *Decoder, decode func(*Decoder) (T, error)) ([]T, error) {
	n, err := d.ReadStartArray()
	if err != nil {
		return nil, err
	}
	var items []T
	if n >= 0 {
		items = make([]T, 0, n)
		for i := 0; i < n; i++ {
			item, err := decode(d)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	} else {
		for {
			state, err := d.PeekState()
			if err != nil {
				return nil, err
			}
			if state == StateEndArray {
				break
			}
			item, err := decode(d)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}
	if err := d.ReadEndArray(); err != nil {
		return nil, err
	}
	return items, nil
}

// EncodeMap writes m as a definite-length map, sorted by key since
// constraints.Ordered keys have a natural canonical order.
func EncodeMap[K constraints.Ordered, V any](e *Encoder, m map[K]V, encodeKey func(*Encoder, K) error, encodeValue func(*Encoder, V) error) error {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return e.Map(len(keys), func(e *Encoder) error {
		for _, k := range keys {
			if err := encodeKey(e, k); err != nil {
				return err
			}
			if err := encodeValue(e, m[k]); err != nil {
				return err
			}
		}
		return nil
	})
}

// DecodeMap reads a definite or indefinite-length map into a Go map.
func DecodeMap[K comparable, V any](d *Decoder, decodeKey func(*Decoder) (K, error), decodeValue func(*Decoder) (V, error)) (map[K]V, error) {
	n, err := d.ReadStartMap()
	if err != nil {
		return nil, err
	}
	m := make(map[K]V)
	readPair := func() error {
		k, err := decodeKey(d)
		if err != nil {
			return err
		}
		v, err := decodeValue(d)
		if err != nil {
			return err
		}
		m[k] = v
		return nil
	}
	if n >= 0 {
		for i := 0; i < n; i++ {
			if err := readPair(); err != nil {
				return nil, err
			}
		}
	} else {
		for {
			state, err := d.PeekState()
			if err != nil {
				return nil, err
			}
			if state == StateEndMap {
				break
			}
			if err := readPair(); err != nil {
				return nil, err
			}
		}
	}
	if err := d.ReadEndMap(); err != nil {
		return nil, err
	}
	return m, nil
}

// EnumSerializer builds a matched encode/decode pair for a small fixed enum
// ~int type, writing and reading it as its CBOR text-string name rather than
// its numeric value, so the wire form stays stable across reorderings of the
// enum's Go declaration.
func EnumSerializer[T ~int](names map[T]string) (encode func(*Encoder, T) error, decode func(*Decoder) (T, error)) {
	reverse := make(map[string]T, len(names))
	for v, name := range names {
		reverse[name] = v
	}
	encode = func(e *Encoder, v T) error {
		name, ok := names[v]
		if !ok {
			return &EncodeError{Err: ErrInvalidCbor, Message: "value has no registered enum name"}
		}
		return e.String(name)
	}
	decode = func(d *Decoder) (T, error) {
		name, err := d.ReadTextString()
		if err != nil {
			return T(0), err
		}
		v, ok := reverse[name]
		if !ok {
			return T(0), &DecodeException{Err: ErrInvalidCbor, Message: "unrecognized enum name"}
		}
		return v, nil
	}
	return encode, decode
}
