package wework

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// padBlockSize 企业微信协议规定的填充块大小（不是 AES 的 16 字节）
const padBlockSize = 32

// lengthPrefixSize 明文帧中消息长度字段的字节数
const lengthPrefixSize = 4

// EnvelopeCipher 企业微信消息信封加解密接口
type EnvelopeCipher interface {
	// Decrypt 解密 Base64 密文并校验 CorpID，返回消息明文
	Decrypt(encrypted string) ([]byte, error)

	// Encrypt 将明文封装为 Base64 密文（用于主动回复）
	Encrypt(plaintext []byte) (string, error)
}

// aesCipher EnvelopeCipher 的 AES-256-CBC 实现
// IV 固定为密钥前 16 字节，这是平台协议的一部分，不能替换为随机 IV
type aesCipher struct {
	aesKey []byte
	corpID string
}

// NewEnvelopeCipher 创建信封加解密器
// encodingAESKey 为 43 字符的 Base64 编码密钥，追加 "=" 后解码得到 32 字节 AES 密钥
func NewEnvelopeCipher(encodingAESKey, corpID string) (EnvelopeCipher, error) {
	aesKey, err := DecodeAESKey(encodingAESKey)
	if err != nil {
		return nil, err
	}
	return &aesCipher{aesKey: aesKey, corpID: corpID}, nil
}

// DecodeAESKey 解码 EncodingAESKey，结果必须正好 32 字节
func DecodeAESKey(encodingAESKey string) ([]byte, error) {
	aesKey, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return nil, fmt.Errorf("decode encoding_aes_key: %w", err)
	}
	if len(aesKey) != 32 {
		return nil, fmt.Errorf("invalid aes key length: got %d, want 32", len(aesKey))
	}
	return aesKey, nil
}

// Decrypt 解密企业微信加密消息
// Base64 解码 → AES-CBC 解密（IV = aesKey[:16]）→ 去填充 → 解析 msgLen(4) + msg + corpID → 校验 corpID
func (c *aesCipher) Decrypt(encrypted string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, &DecryptError{Reason: "base64 decode", Err: err}
	}

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, &DecryptError{Reason: fmt.Sprintf("ciphertext length %d is not a multiple of block size %d", len(ciphertext), aes.BlockSize)}
	}

	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return nil, &DecryptError{Reason: "new aes cipher", Err: err}
	}
	mode := cipher.NewCBCDecrypter(block, c.aesKey[:aes.BlockSize])
	plaintext := make([]byte, len(ciphertext))
	mode.CryptBlocks(plaintext, ciphertext)

	plaintext, err = unpad(plaintext)
	if err != nil {
		return nil, &DecryptError{Reason: "unpad", Err: err}
	}

	if len(plaintext) < lengthPrefixSize {
		return nil, &DecryptError{Reason: fmt.Sprintf("plaintext too short: %d bytes", len(plaintext))}
	}
	msgLen := uint64(binary.BigEndian.Uint32(plaintext[:lengthPrefixSize]))
	if uint64(len(plaintext)-lengthPrefixSize) < msgLen {
		return nil, &DecryptError{Reason: fmt.Sprintf("invalid msg length: %d, plaintext length: %d", msgLen, len(plaintext))}
	}
	end := lengthPrefixSize + int(msgLen)
	msg := plaintext[lengthPrefixSize:end]
	corpID := string(plaintext[end:])

	if corpID != c.corpID {
		return nil, &DecryptError{Reason: "corp_id mismatch"}
	}
	if !utf8.Valid(msg) {
		return nil, &DecryptError{Reason: "message is not valid utf-8"}
	}

	return msg, nil
}

// Encrypt 加密消息
// 构造 msgLen(4, big-endian) + msg + corpID → 32 字节块填充 → AES-CBC 加密 → Base64 编码
func (c *aesCipher) Encrypt(plaintext []byte) (string, error) {
	if uint64(len(plaintext)) > math.MaxUint32 {
		return "", &EncryptError{Reason: fmt.Sprintf("message too large: %d bytes", len(plaintext))}
	}

	buf := make([]byte, lengthPrefixSize, lengthPrefixSize+len(plaintext)+len(c.corpID)+padBlockSize)
	binary.BigEndian.PutUint32(buf, uint32(len(plaintext)))
	buf = append(buf, plaintext...)
	buf = append(buf, c.corpID...)

	padded := pad(buf, padBlockSize)

	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return "", &EncryptError{Reason: "new aes cipher", Err: err}
	}
	mode := cipher.NewCBCEncrypter(block, c.aesKey[:aes.BlockSize])
	ciphertext := make([]byte, len(padded))
	mode.CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// pad PKCS#7 风格填充到 blockSize 的整数倍，已对齐时补一整块
func pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	for i := 0; i < padding; i++ {
		data = append(data, byte(padding))
	}
	return data
}

// unpad 去除填充；填充值不在 [1, 32] 内时视为无填充，与平台解码器保持一致
func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	padding := int(data[len(data)-1])
	if padding < 1 || padding > padBlockSize {
		padding = 0
	}
	if padding > len(data) {
		return nil, fmt.Errorf("padding %d exceeds data length %d", padding, len(data))
	}
	return data[:len(data)-padding], nil
}
