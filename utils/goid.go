package utils

import (
	"bytes"
	"runtime"
	"strconv"
)

// GetGoroutineID 获取当前协程id
// runtime没有公开协程id，只能从栈信息的首行 "goroutine N [running]:" 中解析。
// 派发协程需要用它做同步调用的死锁自检
func GetGoroutineID() int64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return -1
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
