package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql   string
		op    string
		table string
	}{
		{sql: `SELECT * FROM "users" WHERE id = $1`, op: "SELECT", table: "users"},
		{sql: "UPDATE users SET is_admin = ? WHERE id = ?", op: "UPDATE", table: "users"},
		{sql: "INSERT INTO `pending_payments` (`user_id`) VALUES (?)", op: "INSERT", table: "pending_payments"},
		{sql: "DELETE FROM pending_payments WHERE reg_pay_num = ?", op: "DELETE", table: "pending_payments"},
		{sql: "", op: "UNKNOWN", table: ""},
	}
	for _, tc := range cases {
		op, table := describeSQL(tc.sql)
		assert.Equal(t, tc.op, op, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}

func TestParamsFilterDropsValues(t *testing.T) {
	l := NewGormLogger(DefaultGormLoggerConfig())
	sql, params := l.ParamsFilter(context.Background(), "UPDATE users SET phone = ?", "+79990001122")
	assert.Equal(t, "UPDATE users SET phone = ?", sql)
	assert.Nil(t, params)
}
