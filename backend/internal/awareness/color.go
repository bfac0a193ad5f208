package awareness

import (
	"fmt"
	"unicode/utf16"
)

// ColorFor 由名字确定性地生成颜色，同名用户重连后颜色不变，且与浏览器端算法一致。
func ColorFor(name string) string {
	var hash int64
	for _, c := range utf16.Encode([]rune(name)) {
		// 移位按 32 位整数回绕，减法和加法保持全精度
		hash = int64(c) + int64(int32(hash)<<5) - hash
	}
	hue := ((hash % 360) + 360) % 360
	return fmt.Sprintf("hsl(%d, 70%%, 55%%)", hue)
}
