package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

// Sign возвращает HMAC-SHA256 подпись payload в hex (нижний регистр).
// Чистая функция: одинаковые payload и secret дают одинаковую подпись.
func Sign(payload, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// signQuery добавляет timestamp и recvWindow, подписывает каноническую строку
// запроса и возвращает её вместе с параметром signature.
//
// url.Values.Encode сортирует ключи, поэтому строка детерминирована
// и совпадает с тем, что пересчитывает биржа.
func signQuery(params url.Values, secret string, recvWindow int64, now time.Time) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(now.UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(recvWindow, 10))

	query := params.Encode()
	return query + "&signature=" + Sign(query, secret)
}
