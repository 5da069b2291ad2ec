package model

import (
	"math"
	"strconv"

	"github.com/YuminosukeSato/scitrain/pkg/errors"
)

// ハイパーパラメータは設定ファイル(YAML)から int, float64, string, bool で届くため、
// SetParams では以下のヘルパーで目的の型に変換する。

// ParamFloat はパラメータ値を float64 に変換する
func ParamFloat(name string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err == nil {
			return f, nil
		}
	}
	return 0, errors.NewValidationError(name, "must be a number", v)
}

// ParamInt はパラメータ値を int に変換する。整数値でない浮動小数点はエラー。
func ParamInt(name string, v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x == math.Trunc(x) {
			return int(x), nil
		}
	case string:
		i, err := strconv.Atoi(x)
		if err == nil {
			return i, nil
		}
	}
	return 0, errors.NewValidationError(name, "must be an integer", v)
}

// ParamBool はパラメータ値を bool に変換する
func ParamBool(name string, v interface{}) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err == nil {
			return b, nil
		}
	}
	return false, errors.NewValidationError(name, "must be a boolean", v)
}

// ParamString はパラメータ値を string に変換する
func ParamString(name string, v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", errors.NewValidationError(name, "must be a string", v)
}

// UnknownParam は推定器が受け付けないパラメータ名のエラーを返す
func UnknownParam(estimator, name string) error {
	return errors.NewValidationError(name, "is not a parameter of "+estimator, name)
}
