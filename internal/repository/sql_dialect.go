package repository

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// dbDialectName 获取数据库方言名称，默认按 sqlite 处理。
func dbDialectName(db *gorm.DB) string {
	if db == nil || db.Dialector == nil {
		return "sqlite"
	}
	name := strings.ToLower(strings.TrimSpace(db.Dialector.Name()))
	if name == "" {
		return "sqlite"
	}
	return name
}

// jsonTextExpr 构建 JSON 字段文本提取表达式，兼容 sqlite 与 postgres。
func jsonTextExpr(db *gorm.DB, column, key string) string {
	return jsonTextExprByDialect(dbDialectName(db), column, key)
}

func jsonTextExprByDialect(dialect, column, key string) string {
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case "postgres", "postgresql":
		// postgres 统一转 jsonb 后再使用 ->> 提取文本
		return fmt.Sprintf("(%s::jsonb ->> '%s')", column, key)
	default:
		// 绿界栏位名区分大小写，使用引号包裹
		return fmt.Sprintf("json_extract(%s, '$.\"%s\"')", column, key)
	}
}

// IsUniqueViolation 判断是否为唯一索引冲突
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	// sqlite: UNIQUE constraint failed；postgres: duplicate key value violates unique constraint (23505)
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}
