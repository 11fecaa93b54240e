package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

func scanWorkflowRow(dest ...any) error {
	now := time.Now().UTC()
	vals := []any{
		"wf_1", "m1", "u1", domain.WorkflowProcessing, domain.StageDatabaseSave,
		(*string)(nil), 0, domain.ExecutionModeQueued, "", "",
		now, now, (*time.Time)(nil),
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *string:
			*d = vals[i].(string)
		case **string:
			*d = vals[i].(*string)
		case *domain.WorkflowStatus:
			*d = vals[i].(domain.WorkflowStatus)
		case *domain.WorkflowStage:
			*d = vals[i].(domain.WorkflowStage)
		case *int:
			*d = vals[i].(int)
		case *domain.ExecutionMode:
			*d = vals[i].(domain.ExecutionMode)
		case *time.Time:
			*d = vals[i].(time.Time)
		case **time.Time:
			*d = vals[i].(*time.Time)
		}
	}
	return nil
}

func TestWorkflowRepo_Create_GeneratesID(t *testing.T) {
	var capturedID string
	repo := NewWorkflowRepo(&fakePool{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			capturedID = args[0].(string)
			return pgconn.CommandTag{}, nil
		},
	})
	id, err := repo.Create(context.Background(), domain.Workflow{MerchantID: "m1", UploadID: "u1", Status: domain.WorkflowPending})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, capturedID)
}

func TestWorkflowRepo_Get_NotFound(t *testing.T) {
	repo := NewWorkflowRepo(&fakePool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{err: pgx.ErrNoRows}
		},
	})
	_, err := repo.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestWorkflowRepo_FindByUploadID_Found(t *testing.T) {
	repo := NewWorkflowRepo(&fakePool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{scanFn: scanWorkflowRow}
		},
	})
	wf, err := repo.FindByUploadID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "wf_1", wf.ID)
	assert.Equal(t, domain.WorkflowProcessing, wf.Status)
	assert.Nil(t, wf.PurchaseOrderID)
	assert.Nil(t, wf.CompletedAt)
}

func TestWorkflowRepo_UpdateStage_Commits(t *testing.T) {
	tx := &fakeTx{}
	repo := NewWorkflowRepo(&fakePool{
		beginTxFn: func(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) { return tx, nil },
	})
	err := repo.UpdateStage(context.Background(), "wf_1", domain.StageImageAttachment, domain.WorkflowProcessing)
	require.NoError(t, err)
}

func TestWorkflowRepo_MarkFailed(t *testing.T) {
	var sawStatus domain.WorkflowStatus
	repo := NewWorkflowRepo(&fakePool{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			sawStatus = args[1].(domain.WorkflowStatus)
			return pgconn.CommandTag{}, nil
		},
	})
	err := repo.MarkFailed(context.Background(), "wf_1", "boom")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowFailed, sawStatus)
}

func TestWorkflowRepo_CountByStatus(t *testing.T) {
	repo := NewWorkflowRepo(&fakePool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{scanFn: func(dest ...any) error {
				*dest[0].(*int64) = 7
				return nil
			}}
		},
	})
	n, err := repo.CountByStatus(context.Background(), domain.WorkflowCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestWorkflowRepo_ListStuck(t *testing.T) {
	repo := NewWorkflowRepo(&fakePool{
		queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &fakeRows{scanFns: []func(dest ...any) error{scanWorkflowRow, scanWorkflowRow}}, nil
		},
	})
	out, err := repo.ListStuck(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestWorkflowRepo_IncrementRetry(t *testing.T) {
	repo := NewWorkflowRepo(&fakePool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{scanFn: func(dest ...any) error {
				*dest[0].(*int) = 2
				return nil
			}}
		},
	})
	n, err := repo.IncrementRetry(context.Background(), "wf_1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestWorkflowRepo_IncrementRetry_NotFound(t *testing.T) {
	repo := NewWorkflowRepo(&fakePool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{err: pgx.ErrNoRows}
		},
	})
	_, err := repo.IncrementRetry(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
