package datatype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert(t *testing.T) {
	testCases := []struct {
		name      string
		converter *Converter
		in        any
		want      any
		wantOK    bool
	}{
		{name: "string from string", converter: String, in: "hello", want: "hello", wantOK: true},
		{name: "string from int", converter: String, in: 42, want: "42", wantOK: true},
		{name: "string from bool", converter: String, in: true, want: "true", wantOK: true},
		{name: "string from map fails", converter: String, in: map[string]any{"a": 1}, wantOK: false},

		{name: "integer from int", converter: Integer, in: 7, want: int64(7), wantOK: true},
		{name: "integer from string", converter: Integer, in: "12", want: int64(12), wantOK: true},
		{name: "integer from fractional fails", converter: Integer, in: 1.5, wantOK: false},
		{name: "integer from garbage fails", converter: Integer, in: "twelve", wantOK: false},

		{name: "float from float", converter: Float, in: 1.25, want: 1.25, wantOK: true},
		{name: "float from string", converter: Float, in: "2.5", want: 2.5, wantOK: true},
		{name: "float from int", converter: Float, in: 3, want: 3.0, wantOK: true},

		{name: "boolean from bool", converter: Boolean, in: false, want: false, wantOK: true},
		{name: "boolean from string", converter: Boolean, in: "true", want: true, wantOK: true},
		{name: "boolean from garbage fails", converter: Boolean, in: "yep", wantOK: false},

		{name: "object id valid", converter: ObjectID, in: "507f1f77bcf86cd799439011", want: "507f1f77bcf86cd799439011", wantOK: true},
		{name: "object id wrong length fails", converter: ObjectID, in: "507f1f77", wantOK: false},
		{name: "object id non-hex fails", converter: ObjectID, in: "zzzf1f77bcf86cd799439011", wantOK: false},

		{name: "none passes scalar through", converter: None, in: 42, want: 42, wantOK: true},
		{name: "none passes map through", converter: None, in: map[string]any{"a": 1}, want: map[string]any{"a": 1}, wantOK: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.converter.Convert(tc.in)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.want, got)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestConvert_NilNeverErrors(t *testing.T) {
	for _, c := range []*Converter{String, Integer, Float, Boolean, ObjectID, None} {
		t.Run(c.Name(), func(t *testing.T) {
			got, ok := c.Convert(nil)
			assert.False(t, ok)
			assert.Nil(t, got)
		})
	}
}

func TestByName(t *testing.T) {
	c, err := ByName("integer")
	require.NoError(t, err)
	assert.Equal(t, Integer, c)

	c, err = ByName("")
	require.NoError(t, err)
	assert.Equal(t, None, c)

	_, err = ByName("varchar")
	require.Error(t, err)
}
