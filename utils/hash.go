package utils

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// FileMD5 计算文件MD5
func FileMD5(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// BytesMD5 计算字节数组MD5
func BytesMD5(data []byte) string {
	hash := md5.New()
	hash.Write(data)
	return hex.EncodeToString(hash.Sum(nil))
}

// ResultKey 由输入文件的MD5和附加参数组成缓存键，空路径跳过
func ResultKey(params string, paths ...string) (string, error) {
	parts := make([]string, 0, len(paths)+1)
	for _, p := range paths {
		if p == "" {
			parts = append(parts, "-")
			continue
		}
		sum, err := FileMD5(p)
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", p, err)
		}
		parts = append(parts, sum)
	}
	parts = append(parts, params)
	return BytesMD5([]byte(strings.Join(parts, ":"))), nil
}
