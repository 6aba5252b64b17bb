package sqlutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNullableConversions(t *testing.T) {
	s := "alice"
	assert.Equal(t, sql.NullString{String: "alice", Valid: true}, ToSqlString(&s))
	assert.False(t, ToSqlString(nil).Valid)
	assert.Equal(t, "alice", FromSqlString(ToSqlString(&s), "x"))
	assert.Equal(t, "x", FromSqlString(sql.NullString{}, "x"))

	n := 102
	assert.Equal(t, sql.NullInt32{Int32: 102, Valid: true}, ToSqlInt32(&n))
	assert.Equal(t, &n, FromSqlInt32(ToSqlInt32(&n)))
	assert.Nil(t, FromSqlInt32(ToSqlInt32(nil)))

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, &now, FromSqlTime(ToSqlTime(&now)))
	assert.Nil(t, FromSqlTime(ToSqlTime(nil)))
}
