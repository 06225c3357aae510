// Package signature 实现网关回调签名的计算和校验。
//
// 网关签名为 hex(HMAC-SHA256(secret, message))：
//   - 同步确认：message = gateway_order_id + "|" + gateway_payment_id，密钥为 key_secret
//   - webhook：message = 原始请求体，密钥为 webhook_secret
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign 计算签名
func Sign(message []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify 校验签名
//
// 比较的是解码后的 MAC 字节，hmac.Equal 的耗时与内容无关，不会泄露匹配到第几个字节
func Verify(message []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hmac.Equal(mac.Sum(nil), got)
}

// PaymentMessage 同步确认的待签名串
func PaymentMessage(orderID, paymentID string) []byte {
	return []byte(orderID + "|" + paymentID)
}

// VerifyPayment 校验同步确认签名
func VerifyPayment(orderID, paymentID, signature, secret string) bool {
	return Verify(PaymentMessage(orderID, paymentID), signature, secret)
}
