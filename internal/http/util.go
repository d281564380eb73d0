package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

var (
	// ErrBodyTooLarge 请求体超过上限
	ErrBodyTooLarge = errors.New("request body too large")
	// ErrInvalidBody 请求体不是合法 JSON
	ErrInvalidBody = errors.New("invalid request body")
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// parseInt 解析查询参数；空串、非数字或 <= 0 时返回 def
func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil || i <= 0 {
		return def
	}
	return i
}

// readBodyJSON 读取并解析 JSON 请求体；空请求体保持 out 不变
// 多读 1 字节用于判断是否超过 maxBytes
func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return ErrBodyTooLarge
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return nil
}

// writeBodyError 按 readBodyJSON 的错误类型返回 413 或 400
func writeBodyError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrBodyTooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, Fail("request body too large"))
		return
	}
	writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
}
