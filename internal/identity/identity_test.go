package identity

import (
	"context"
	"testing"

	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/metal-toolbox/vbmc/internal/store/backend"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnumerator struct {
	objects []backend.Object
	err     error
	calls   int
}

func (f *fakeEnumerator) Enumerate(context.Context) ([]backend.Object, error) {
	f.calls++
	return f.objects, f.err
}

func TestListEmptyBackend(t *testing.T) {
	mapper := New(&fakeEnumerator{}, PolicySuffix)

	got, err := mapper.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestListPrefersNames(t *testing.T) {
	source := &fakeEnumerator{objects: []backend.Object{
		{ID: "4d3e0f1a-0000-4000-8000-000000000001", Name: "node-0"},
		{ID: "4d3e0f1a-0000-4000-8000-000000000002", UUID: "4d3e0f1a-0000-4000-8000-000000000002"},
	}}

	got, err := New(source, PolicySuffix).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Identity{
		{ExternalID: "node-0", BackendID: "4d3e0f1a-0000-4000-8000-000000000001"},
		{ExternalID: "4d3e0f1a-0000-4000-8000-000000000002", BackendID: "4d3e0f1a-0000-4000-8000-000000000002"},
	}, got)
}

func TestCollisionPolicies(t *testing.T) {
	objects := []backend.Object{
		{ID: "vm-101", Name: "worker"},
		{ID: "vm-202", Name: "worker"},
		{ID: "vm-303", Name: "control"},
	}

	testcases := []struct {
		policy CollisionPolicy
		want   []string
	}{
		{PolicySuffix, []string{"worker-vm101", "worker-vm202", "control"}},
		{PolicyBackendID, []string{"vm-101", "vm-202", "control"}},
		{PolicyFirst, []string{"worker", "worker-vm202", "control"}},
	}

	for _, tc := range testcases {
		t.Run(string(tc.policy), func(t *testing.T) {
			mapper := New(&fakeEnumerator{objects: objects}, tc.policy)

			got, err := mapper.List(context.Background())
			require.NoError(t, err)

			external := make([]string, 0, len(got))
			for _, id := range got {
				external = append(external, id.ExternalID)

				backendID, err := mapper.Resolve(context.Background(), id.ExternalID)
				require.NoError(t, err)
				assert.Equal(t, id.BackendID, backendID)
			}

			assert.Equal(t, tc.want, external)
		})
	}
}

func TestSuffixFallsBackToFullID(t *testing.T) {
	objects := []backend.Object{
		{ID: "abcdefgh-1", Name: "db"},
		{ID: "abcdefgh-2", Name: "db"},
	}

	got, err := New(&fakeEnumerator{objects: objects}, PolicySuffix).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "db-abcdefgh", got[0].ExternalID)
	assert.Equal(t, "db-abcdefgh-2", got[1].ExternalID)
}

func TestResolve(t *testing.T) {
	source := &fakeEnumerator{objects: []backend.Object{
		{ID: "vm-42", Name: "node-1", UUID: "6A1B0C2D-0000-4000-8000-00000000002A"},
	}}
	mapper := New(source, PolicySuffix)

	testcases := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{"by name", "node-1", "vm-42", nil},
		{"by backend id", "vm-42", "vm-42", nil},
		{"by uuid case insensitive", "6a1b0c2d-0000-4000-8000-00000000002a", "vm-42", nil},
		{"missing", "node-2", "", model.ErrNotFound},
		{"empty", " ", "", model.ErrInvalidRequest},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := mapper.Resolve(context.Background(), tc.in)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAllIsRestartable(t *testing.T) {
	source := &fakeEnumerator{objects: []backend.Object{{ID: "a", Name: "one"}}}
	seq := New(source, PolicySuffix).All(context.Background())

	for range seq {
	}

	source.objects = append(source.objects, backend.Object{ID: "b", Name: "two"})

	count := 0
	for _, err := range seq {
		require.NoError(t, err)
		count++
	}

	assert.Equal(t, 2, count)
	assert.Equal(t, 2, source.calls)
}

func TestAllPropagatesErrors(t *testing.T) {
	source := &fakeEnumerator{err: errors.Wrap(model.ErrBackendUnavailable, "down")}

	_, err := New(source, PolicySuffix).List(context.Background())
	assert.ErrorIs(t, err, model.ErrBackendUnavailable)
}

func TestParseCollisionPolicy(t *testing.T) {
	p, err := ParseCollisionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicySuffix, p)

	p, err = ParseCollisionPolicy("UUID")
	require.NoError(t, err)
	assert.Equal(t, PolicyBackendID, p)

	_, err = ParseCollisionPolicy("random")
	assert.ErrorIs(t, err, ErrUnknownCollisionPolicy)
}

func TestLookupReturnsBackendObject(t *testing.T) {
	source := &fakeEnumerator{objects: []backend.Object{
		{ID: "vm-101", Name: "worker", UUID: "421c5a0e-7a5e-4f4c-9d3e-000000000101"},
		{ID: "vm-202", Name: "worker", UUID: "421c5a0e-7a5e-4f4c-9d3e-000000000202"},
	}}

	obj, err := New(source, PolicySuffix).Lookup(context.Background(), "worker-vm202")
	require.NoError(t, err)
	assert.Equal(t, source.objects[1], obj)

	_, err = New(source, PolicySuffix).Lookup(context.Background(), "worker")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
