package repository

import "gorm.io/gorm"

// 列表查询的分页约束
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NormalizePagination 页码从 1 起，每页条数缺省 20、上限 100
func NormalizePagination(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func applyPagination(query *gorm.DB, page, pageSize int) *gorm.DB {
	if query == nil {
		return query
	}
	page, pageSize = NormalizePagination(page, pageSize)
	return query.Limit(pageSize).Offset((page - 1) * pageSize)
}
