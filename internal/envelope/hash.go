package envelope

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strconv"
)

// Hash computes the authentication digest binding a request to one queue
// item and its target page: md5("<item>|<page>|<secret>") as lowercase hex.
// The format must stay in sync with deployed rendering endpoints.
func Hash(itemID, pageID, secret string) string {
	sum := md5.Sum([]byte(itemID + "|" + pageID + "|" + secret))
	return hex.EncodeToString(sum[:])
}

// HashMatches compares a presented hash against the expected one in constant time.
func HashMatches(presented, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// formatValue renders a parameter value the way it is concatenated into the hash input.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
