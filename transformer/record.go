package transformer

// CanonicalRecord 表示规范化后的一行设备数据：时间列已替换为统一的
// ISO-8601 字符串，设备标识列已移除。同一设备文件中的每条记录共享相同的列结构。
type CanonicalRecord struct {
	Device    string   `json:"device"`     // 设备标识（DeviceKey）
	Timestamp string   `json:"timestamp"`  // 规范时间戳 YYYY-MM-DDTHH:MM:SS
	Columns   []string `json:"columns"`    // 测量列名（不含时间列）
	Values    []string `json:"values"`     // 与 Columns 一一对应的原始值
	SourceRow int      `json:"source_row"` // 源文件中的行号（含表头，从1开始）
}

// Value 按列名查找记录值
func (r *CanonicalRecord) Value(column string) (string, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return "", false
}

// Clone 返回记录的深拷贝，转换脚本在拷贝上工作，失败时不污染原记录
func (r *CanonicalRecord) Clone() CanonicalRecord {
	out := *r
	out.Columns = append([]string(nil), r.Columns...)
	out.Values = append([]string(nil), r.Values...)
	return out
}
