package wework

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
)

// Sign 计算企业微信签名
// SHA1(sort(token, timestamp, nonce, payload...))，空字符串参数不参与排序
func Sign(token, timestamp, nonce string, payload ...string) string {
	params := make([]string, 0, 3+len(payload))
	for _, p := range append([]string{token, timestamp, nonce}, payload...) {
		if p != "" {
			params = append(params, p)
		}
	}
	sort.Strings(params)
	hash := sha1.Sum([]byte(strings.Join(params, "")))
	return hex.EncodeToString(hash[:])
}

// VerifySignature 重新计算签名并与 signature 做常量时间比较
func VerifySignature(signature, token, timestamp, nonce string, payload ...string) bool {
	computed := Sign(token, timestamp, nonce, payload...)
	return hmac.Equal([]byte(computed), []byte(signature))
}

