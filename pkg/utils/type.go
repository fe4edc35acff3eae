package utils

import "fmt"

// TypeName 런타임 타입 이름 (로그용)
func TypeName(v any) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", v)
}
