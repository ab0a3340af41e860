package exchange

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
)

// Params are the fields of a private command
type Params map[string]interface{}

// EncodeParams converts params into form values. Only string-coercible
// values are accepted.
func EncodeParams(params Params) (url.Values, error) {
	values := make(url.Values, len(params))
	for key, value := range params {
		s, err := formValue(value)
		if err != nil {
			return nil, &EncodingError{Key: key, Value: value}
		}
		values.Set(key, s)
	}
	return values, nil
}

func formValue(v interface{}) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	case decimal.Decimal:
		return x.String(), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return "", fmt.Errorf("unsupported type %T", v)
	}
}

// Sign returns hex(HMAC-SHA512(secret, body)) where body is the form
// encoding of params with keys in ascending order.
func Sign(params Params, secret string) (string, error) {
	values, err := EncodeParams(params)
	if err != nil {
		return "", err
	}
	return SignBody(values.Encode(), secret)
}

// SignBody signs an already encoded request body
func SignBody(body, secret string) (string, error) {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
