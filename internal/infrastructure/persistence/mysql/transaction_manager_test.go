package mysql

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestTransactionManager_WithTransaction(t *testing.T) {
	tests := []struct {
		name      string
		fn        func(ctx context.Context) error
		setupMock func(mock sqlmock.Sqlmock)
		wantError bool
	}{
		{
			name: "正常系: コミット",
			fn: func(ctx context.Context) error {
				_, ok := txFromContext(ctx)
				if !ok {
					return errors.New("transaction not in context")
				}
				return nil
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectCommit()
			},
		},
		{
			name: "正常系: エラー発生時はロールバック",
			fn: func(ctx context.Context) error {
				return errors.New("test error")
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectRollback()
			},
			wantError: true,
		},
		{
			name: "異常系: Beginエラー",
			fn: func(ctx context.Context) error {
				return nil
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(errors.New("begin error"))
			},
			wantError: true,
		},
		{
			name: "異常系: Commitエラー",
			fn: func(ctx context.Context) error {
				return nil
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectCommit().WillReturnError(errors.New("commit error"))
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			tm := NewTransactionManager(db)
			tt.setupMock(mock)

			err := tm.WithTransaction(context.Background(), tt.fn)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTransactionManager_PanicRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db)
	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = tm.WithTransaction(context.Background(), func(ctx context.Context) error {
			panic("boom")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionManager_NestedJoinsOuter(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db)
	mock.ExpectBegin()
	mock.ExpectCommit()

	err := tm.WithTransaction(context.Background(), func(ctx context.Context) error {
		outer, _ := txFromContext(ctx)
		return tm.WithTransaction(ctx, func(inner context.Context) error {
			tx, _ := txFromContext(inner)
			assert.Same(t, outer, tx)
			return nil
		})
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
