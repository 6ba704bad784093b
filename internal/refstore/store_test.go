package refstore_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-catalog-read-path/internal/catalog"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/refstore"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/testutils"
	apperrors "github.com/koopa0/system-design/14-catalog-read-path/pkg/errors"
)

func newStore(t *testing.T, products, users int) *refstore.Store {
	t.Helper()

	store, err := refstore.FromSnapshot(testutils.SampleProducts(products), testutils.SampleUsers(users))
	require.NoError(t, err)
	return store
}

// TestStore_Page 測試分頁切片
func TestStore_Page(t *testing.T) {
	store := newStore(t, 120, 0)

	tests := []struct {
		name      string
		page      int
		limit     int
		expectLen int
		firstID   int64
		lastID    int64
	}{
		{name: "first page", page: 0, limit: 50, expectLen: 50, firstID: 1, lastID: 50},
		{name: "middle page", page: 1, limit: 50, expectLen: 50, firstID: 51, lastID: 100},
		{name: "short last page", page: 2, limit: 50, expectLen: 20, firstID: 101, lastID: 120},
		{name: "beyond the end", page: 3, limit: 50, expectLen: 0},
		{name: "negative page is page zero", page: -1, limit: 50, expectLen: 50, firstID: 1, lastID: 50},
		{name: "zero limit", page: 0, limit: 0, expectLen: 0},
		{name: "negative limit", page: 0, limit: -5, expectLen: 0},
		{name: "overflowing offset", page: math.MaxInt, limit: 50, expectLen: 0},
		{name: "limit larger than store", page: 0, limit: 1000, expectLen: 120, firstID: 1, lastID: 120},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := store.Page(tt.page, tt.limit)

			require.NotNil(t, page)
			require.Len(t, page, tt.expectLen)
			if tt.expectLen > 0 {
				assert.Equal(t, tt.firstID, page[0].ID)
				assert.Equal(t, tt.lastID, page[len(page)-1].ID)
			}
		})
	}
}

func TestStore_PageIsCopy(t *testing.T) {
	store := newStore(t, 10, 0)

	page := store.Page(0, 5)
	page[0].Name = "mutated"

	p, ok := store.Product(1)
	require.True(t, ok)
	assert.Equal(t, "product 1", p.Name)
}

// TestStore_SourceOrder 分頁依來源順序，而不是 id 排序
func TestStore_SourceOrder(t *testing.T) {
	products := testutils.SampleProducts(3)
	products[0], products[2] = products[2], products[0]

	store, err := refstore.FromSnapshot(products, nil)
	require.NoError(t, err)

	assert.Equal(t, []int64{3, 2, 1}, refstore.ProductIDs(store.Page(0, 10)))
}

func TestStore_Lookups(t *testing.T) {
	store := newStore(t, 5, 3)

	p, ok := store.Product(3)
	require.True(t, ok)
	assert.Equal(t, int64(300), p.Price)

	_, ok = store.Product(99)
	assert.False(t, ok)

	u, ok := store.User(2)
	require.True(t, ok)
	assert.Equal(t, "user2@example.com", u.Email)

	byEmail, ok := store.UserByEmail("user3@example.com")
	require.True(t, ok)
	assert.Equal(t, int64(3), byEmail.ID)

	_, ok = store.UserByEmail("nobody@example.com")
	assert.False(t, ok)

	assert.Equal(t, 5, store.Len())
	assert.Equal(t, 3, store.UserCount())
	assert.Len(t, store.Products(), 5)
}

func TestStore_Authenticate(t *testing.T) {
	store := newStore(t, 0, 3)

	tests := []struct {
		name     string
		email    string
		password string
		wantID   int64
		wantErr  bool
	}{
		{name: "valid credentials", email: "user1@example.com", password: "password1", wantID: 1},
		{name: "wrong password", email: "user1@example.com", password: "password2", wantErr: true},
		{name: "unknown email", email: "ghost@example.com", password: "password1", wantErr: true},
		{name: "empty password", email: "user2@example.com", password: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := store.Authenticate(tt.email, tt.password)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, u.ID)
		})
	}
}

func TestFromSnapshot_Validation(t *testing.T) {
	tests := []struct {
		name     string
		products []catalog.Product
		users    []catalog.User
	}{
		{
			name:     "duplicate product id",
			products: []catalog.Product{{ID: 1}, {ID: 1}},
		},
		{
			name:     "negative price",
			products: []catalog.Product{{ID: 1, Price: -1}},
		},
		{
			name:  "duplicate user id",
			users: []catalog.User{{ID: 1, Email: "a@example.com"}, {ID: 1, Email: "b@example.com"}},
		},
		{
			name:  "duplicate email",
			users: []catalog.User{{ID: 1, Email: "a@example.com"}, {ID: 2, Email: "a@example.com"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := refstore.FromSnapshot(tt.products, tt.users)
			assert.Error(t, err)
		})
	}
}

func TestBlob_RoundTrip(t *testing.T) {
	products := testutils.SampleProducts(5)

	var buf bytes.Buffer
	require.NoError(t, refstore.WriteBlob(&buf, products))

	decoded, err := refstore.ReadBlob(&buf)
	require.NoError(t, err)
	require.Len(t, decoded, len(products))

	for i := range products {
		assert.Equal(t, products[i].ID, decoded[i].ID)
		assert.Equal(t, products[i].Name, decoded[i].Name)
		assert.Equal(t, products[i].Price, decoded[i].Price)
		assert.True(t, products[i].CreatedAt.Equal(decoded[i].CreatedAt))
	}
}

func TestReadBlob_Invalid(t *testing.T) {
	tests := []struct {
		name string
		blob string
	}{
		{name: "not json", blob: "garbage"},
		{name: "null", blob: "null"},
		{name: "object instead of array", blob: `{"id": 1}`},
		{name: "unknown field", blob: `[{"id": 1, "stock": 3}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := refstore.ReadBlob(bytes.NewBufferString(tt.blob))
			assert.Error(t, err)
		})
	}
}
