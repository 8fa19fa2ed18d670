package util

import "strings"

// FirstNonEmpty 返回第一个非空白字符串，全部为空时返回 ""。
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
