package validator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/eddielth/csv-device-split/transformer"
)

// Validator 表示规范记录验证器接口
type Validator interface {
	// Validate 验证一条规范记录
	Validate(record *transformer.CanonicalRecord) error
}

// RangeValidator 表示测量列的数值范围验证器
type RangeValidator struct {
	Column string
	Min    float64
	Max    float64
}

// Validate 验证记录中指定列的值是否在范围内。
// 列不存在或值为空不算违规，设备文件之间的列结构本来就不同。
func (rv *RangeValidator) Validate(record *transformer.CanonicalRecord) error {
	raw, ok := record.Value(rv.Column)
	if !ok {
		return nil
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("列 %s 的值 %q 不是数值", rv.Column, raw)
	}

	if value < rv.Min || value > rv.Max {
		return fmt.Errorf("列 %s 的值 %f 不在范围 [%f, %f] 内", rv.Column, value, rv.Min, rv.Max)
	}

	return nil
}

// Chain 按顺序应用多个验证器，返回第一个违规
func Chain(validators []Validator, record *transformer.CanonicalRecord) error {
	for _, v := range validators {
		if err := v.Validate(record); err != nil {
			return err
		}
	}
	return nil
}
