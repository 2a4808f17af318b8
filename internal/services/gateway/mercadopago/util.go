package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

func (m *mercadoPago) setHeaders(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer "+m.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req
}

// FormatTime renders t in the ISO 8601 layout with milliseconds and offset
// used by the preferences API.
func FormatTime(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000-07:00")
}

// VerifySignature checks the x-signature header of a webhook delivery:
// "ts=<unix>,v1=<hex hmac>" where the hmac covers
// "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
func VerifySignature(secret, xSignature, xRequestID, dataID string) bool {
	var ts, v1 string
	for _, part := range strings.Split(xSignature, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "v1":
			v1 = v
		}
	}
	if ts == "" || v1 == "" {
		return false
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(dataID), xRequestID, ts)
	expected := hex.EncodeToString(hmac256([]byte(secret), []byte(manifest)))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(v1)))
}

func hmac256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
