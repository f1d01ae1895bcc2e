package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON 任意 JSON 对象，用于存储回调原文
type JSON map[string]interface{}

// Value 实现 driver.Valuer 接口
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan 实现 sql.Scanner 接口
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSON)
		return nil
	}
	raw, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, j)
}

// FieldPair 有序栏位
type FieldPair struct {
	Key   string `json:"k"`
	Value string `json:"v"`
}

// FieldList 按提交顺序保存的栏位列表
type FieldList []FieldPair

// Value 实现 driver.Valuer 接口
func (l FieldList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan 实现 sql.Scanner 接口
func (l *FieldList) Scan(value interface{}) error {
	if value == nil {
		*l = FieldList{}
		return nil
	}
	raw, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, l)
}

// Get 读取栏位值
func (l FieldList) Get(key string) string {
	for _, f := range l {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

func scanBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported scan type %T", value)
	}
}
