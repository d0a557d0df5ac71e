package value

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEqual_SameKind(t *testing.T) {
	assert.True(t, Equal(Int(5), Int(5)))
	assert.False(t, Equal(Int(5), Int(6)))
	assert.False(t, Equal(Int(5), Float(5)))
	assert.True(t, Equal(Null(), Null()))
}

func TestEqual_ArrayAndStruct(t *testing.T) {
	a := Array([]Value{Int(1), String("x")})
	b := Array([]Value{Int(1), String("x")})
	c := Array([]Value{Int(1), String("y")})
	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))

	s1 := Struct(map[string]Value{"a": Int(1), "b": Bool(true)})
	s2 := Struct(map[string]Value{"b": Bool(true), "a": Int(1)})
	assert.True(t, Equal(s1, s2))
}

func TestLess_OrdersWithinKind(t *testing.T) {
	assert.True(t, Less(Int(1), Int(2)))
	assert.False(t, Less(Int(2), Int(1)))
	assert.True(t, Less(String("a"), String("b")))

	now := time.Now()
	assert.True(t, Less(Timestamp(now), Timestamp(now.Add(time.Second))))
}

func TestLess_PanicsAcrossKinds(t *testing.T) {
	assert.Panics(t, func() { Less(Int(1), Float(1)) })
}

func TestCanonical_DeterministicForStructs(t *testing.T) {
	s1 := Struct(map[string]Value{"a": Int(1), "b": String("x")})
	s2 := Struct(map[string]Value{"b": String("x"), "a": Int(1)})
	assert.Equal(t, Canonical(s1), Canonical(s2))
}

func TestCanonical_DiffersOnContent(t *testing.T) {
	a := Canonical(Array([]Value{Int(1)}))
	b := Canonical(Array([]Value{Int(2)}))
	assert.NotEqual(t, a, b)
}

func TestErrorValue(t *testing.T) {
	v := Error(errors.New("boom"))
	assert.True(t, v.IsError())
	assert.False(t, v.IsNull())
}

func TestEncodeDecode_RoundTripsStruct(t *testing.T) {
	v := Struct(map[string]Value{
		"id":   Int(7),
		"name": String("widget"),
		"tags": Array([]Value{String("a"), String("b")}),
		"when": Timestamp(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
	})

	data, err := Encode(v)
	assert.NoError(t, err)

	got, err := Decode(data)
	assert.NoError(t, err)
	assert.True(t, Equal(v, got))
}

func TestEncodeDecode_RoundTripsError(t *testing.T) {
	v := Error(errors.New("boom"))
	data, err := Encode(v)
	assert.NoError(t, err)

	got, err := Decode(data)
	assert.NoError(t, err)
	assert.True(t, got.IsError())
	assert.Equal(t, "boom", got.Err.Error())
}

func TestRecord_GetAndClone(t *testing.T) {
	r := Record{Values: map[string]Value{"id": Int(1)}}
	assert.Equal(t, Int(1), r.Get("id"))
	assert.True(t, r.Get("missing").IsNull())

	clone := r.Clone()
	clone.Values["id"] = Int(2)
	assert.Equal(t, Int(1), r.Get("id"))
	assert.Equal(t, Int(2), clone.Get("id"))
}
