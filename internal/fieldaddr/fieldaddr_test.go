package fieldaddr

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionAddress_RoundTrip(t *testing.T) {
	testAddrs := []string{
		"postgres_db:users",
		"mongo:order_items",
		"crm:contact-records",
	}

	for _, raw := range testAddrs {
		t.Run(raw, func(t *testing.T) {
			addr, err := ParseCollectionAddress(raw)
			require.NoError(t, err)

			assert.Equal(t, raw, addr.String())

			roundTrip, err := ParseCollectionAddress(addr.String())
			require.NoError(t, err)
			assert.Equal(t, addr, roundTrip)
		})
	}
}

func TestParseCollectionAddress_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		rawID string
	}{
		{name: "missing collection segment", rawID: "users"},
		{name: "too many segments", rawID: "db:users:id"},
		{name: "empty dataset", rawID: ":users"},
		{name: "empty collection", rawID: "db:"},
		{name: "empty string", rawID: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCollectionAddress(tc.rawID)
			require.Error(t, err)

			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, tc.rawID, parseErr.Input)
		})
	}
}

func TestCollectionAddress_Ordering(t *testing.T) {
	addrs := []CollectionAddress{
		NewCollectionAddress("db", "zebras"),
		NewCollectionAddress("api", "users"),
		NewCollectionAddress("db", "addresses"),
	}

	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })

	assert.Equal(t, "api:users", addrs[0].String())
	assert.Equal(t, "db:addresses", addrs[1].String())
	assert.Equal(t, "db:zebras", addrs[2].String())
}

func TestSentinels(t *testing.T) {
	assert.True(t, Root.IsSentinel())
	assert.True(t, Terminator.IsSentinel())
	assert.False(t, NewCollectionAddress("db", "users").IsSentinel())
	assert.NotEqual(t, Root, Terminator)
}

func TestFieldPath(t *testing.T) {
	testCases := []struct {
		name     string
		path     FieldPath
		segments []string
		level    int
	}{
		{name: "single level", path: NewFieldPath("email"), segments: []string{"email"}, level: 1},
		{name: "nested", path: NewFieldPath("contact", "email"), segments: []string{"contact", "email"}, level: 2},
		{name: "deeply nested", path: NewFieldPath("a", "b", "c"), segments: []string{"a", "b", "c"}, level: 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.segments, tc.path.Segments())
			assert.Equal(t, tc.level, tc.path.Level())

			parsed, err := ParseFieldPath(tc.path.String())
			require.NoError(t, err)
			assert.Equal(t, tc.path, parsed)
		})
	}
}

func TestFieldPath_Prepend(t *testing.T) {
	p := NewFieldPath("email")
	assert.Equal(t, NewFieldPath("contact", "email"), p.Prepend("contact"))
	assert.Equal(t, FieldPath("outer"), FieldPath("").Prepend("outer"))
}

func TestParseFieldPath_Errors(t *testing.T) {
	for _, raw := range []string{"", "a..b", ".a", "a."} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseFieldPath(raw)
			require.Error(t, err)
		})
	}
}

func TestFieldAddress(t *testing.T) {
	addr := NewFieldAddress("db", "users", "contact", "email")

	assert.Equal(t, "db:users:contact.email", addr.String())
	assert.True(t, addr.IsMemberOf(NewCollectionAddress("db", "users")))
	assert.False(t, addr.IsMemberOf(NewCollectionAddress("db", "orders")))
	assert.Equal(t, NewCollectionAddress("db", "users"), addr.CollectionAddress())

	roundTrip, err := ParseFieldAddress(addr.String())
	require.NoError(t, err)
	assert.Equal(t, addr, roundTrip)
}

func TestParseFieldAddress_Errors(t *testing.T) {
	for _, raw := range []string{"db:users", "db:users:a:b", "db::id", "db:users:"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseFieldAddress(raw)
			require.Error(t, err)
		})
	}
}
