package mysql

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-wallet/internal/domain/event"
)

func TestEventCatalog_FindByEventID(t *testing.T) {
	start := time.Date(2026, 7, 1, 18, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Hour)

	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		wantErr   error
		wantAny   bool
	}{
		{
			name: "正常系: イベントを取得",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT event_id, price, starts_at, ends_at FROM events`).
					WithArgs("event-1").
					WillReturnRows(sqlmock.NewRows([]string{"event_id", "price", "starts_at", "ends_at"}).
						AddRow("event-1", int64(3000), start, end))
			},
		},
		{
			name: "異常系: 見つからない",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM events`).WithArgs("event-1").WillReturnError(sql.ErrNoRows)
			},
			wantErr: event.ErrEventNotFound,
		},
		{
			name: "異常系: 価格が不正な行",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM events`).
					WithArgs("event-1").
					WillReturnRows(sqlmock.NewRows([]string{"event_id", "price", "starts_at", "ends_at"}).
						AddRow("event-1", int64(0), start, end))
			},
			wantErr: event.ErrInvalidEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			catalog := NewEventCatalog(db)
			tt.setupMock(mock)

			got, err := catalog.FindByEventID(context.Background(), "event-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, int64(3000), got.Price())
				assert.Equal(t, end, got.EndsAt())
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
