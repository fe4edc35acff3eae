package utils

import (
	"io"
	"log/slog"
)

// CloseWithLog 리소스를 닫고 에러 발생 시 로그만 남긴다 (nil 허용)
func CloseWithLog(c io.Closer, what string, attrs ...any) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		slog.Warn("Error closing "+what, append(attrs, "err", err)...)
	}
}
