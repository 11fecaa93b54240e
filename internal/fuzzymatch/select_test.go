package fuzzymatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

type fakeSupplierRepo struct {
	list          []domain.Supplier
	trigramResult domain.Supplier
	trigramScore  float64
	trigramErr    error
}

func (f *fakeSupplierRepo) Create(ctx domain.Context, s domain.Supplier) (string, error) { return "", nil }
func (f *fakeSupplierRepo) Get(ctx domain.Context, id string) (domain.Supplier, error) {
	return domain.Supplier{}, nil
}
func (f *fakeSupplierRepo) ListByMerchant(ctx domain.Context, merchantID string) ([]domain.Supplier, error) {
	return f.list, nil
}
func (f *fakeSupplierRepo) TrigramMatch(ctx domain.Context, merchantID, name string) (domain.Supplier, float64, error) {
	return f.trigramResult, f.trigramScore, f.trigramErr
}

func TestResolver_SelectEngine_RequestOverrideWins(t *testing.T) {
	r := NewResolver(&fakeSupplierRepo{}, 0.8)
	assert.Equal(t, EngineB, r.selectEngine("m1", EngineB))
}

func TestResolver_SelectEngine_MerchantOverride(t *testing.T) {
	r := NewResolver(&fakeSupplierRepo{}, 0.8)
	r.MerchantEngine = map[string]Engine{"m1": EngineB}
	assert.Equal(t, EngineB, r.selectEngine("m1", ""))
	assert.Equal(t, EngineA, r.selectEngine("m2", ""))
}

func TestResolver_SelectEngine_GlobalFlag(t *testing.T) {
	r := NewResolver(&fakeSupplierRepo{}, 0.8)
	r.GlobalEngine = EngineB
	assert.Equal(t, EngineB, r.selectEngine("m1", ""))
}

func TestResolver_SelectEngine_DefaultsToEngineA(t *testing.T) {
	r := NewResolver(&fakeSupplierRepo{}, 0.8)
	assert.Equal(t, EngineA, r.selectEngine("m1", ""))
}

func TestResolver_Resolve_FallsBackWhenEngineBFails(t *testing.T) {
	repo := &fakeSupplierRepo{
		trigramErr: errors.New("pg_trgm unavailable"),
		list:       []domain.Supplier{{ID: "s1", Name: "Acme Supply Co"}},
	}
	r := NewResolver(repo, 0.5)
	r.GlobalEngine = EngineB
	cand, ok, err := r.Resolve(context.Background(), "m1", domain.Supplier{Name: "Acme Supply Co"}, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, EngineA, cand.Engine)
}

func TestResolver_Resolve_EngineBSucceeds(t *testing.T) {
	repo := &fakeSupplierRepo{
		trigramResult: domain.Supplier{ID: "s1", Name: "Acme Supply Co"},
		trigramScore:  0.95,
	}
	r := NewResolver(repo, 0.4)
	r.GlobalEngine = EngineB
	cand, ok, err := r.Resolve(context.Background(), "m1", domain.Supplier{Name: "Acme Supply Co"}, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, EngineB, cand.Engine)
	assert.Equal(t, "s1", cand.Supplier.ID)
}

func TestRolloutBucket_Deterministic(t *testing.T) {
	a := rolloutBucket("merchant-123")
	b := rolloutBucket("merchant-123")
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, 0)
	assert.Less(t, a, 100)
}
