package dataset

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// naValues はpandasの read_csv が既定で欠損値とみなす文字列
var naValues = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

// IsNA は文字列が欠損値マーカーかどうかを返す
func IsNA(s string) bool {
	_, ok := naValues[s]
	return ok
}

// InferColumn は文字列セルから列の型を推定する。
// 欠損以外の全セルが数値なら Numeric、全てが true/false（欠損なし）なら Boolean、
// それ以外は Categorical になる。
func InferColumn(name string, cells []string) *Column {
	normalized := make([]string, len(cells))
	for i, s := range cells {
		normalized[i] = norm.NFC.String(s)
	}

	if nums, ok := parseNumeric(normalized); ok {
		return NewNumericColumn(name, nums)
	}
	if bools, ok := parseBoolean(normalized); ok {
		return NewBooleanColumn(name, bools)
	}

	strs := make([]string, len(normalized))
	for i, s := range normalized {
		if !IsNA(s) {
			strs[i] = s
		}
	}
	return NewCategoricalColumn(name, strs)
}

func parseNumeric(cells []string) ([]float64, bool) {
	out := make([]float64, len(cells))
	for i, s := range cells {
		if IsNA(s) {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// parseBoolean は欠損を含まない true/false 列のみ受け付ける。
// 欠損を含む真偽値列はpandasではobject型になるため Categorical として扱う。
func parseBoolean(cells []string) ([]bool, bool) {
	if len(cells) == 0 {
		return nil, false
	}
	out := make([]bool, len(cells))
	for i, s := range cells {
		switch s {
		case "True", "true", "TRUE":
			out[i] = true
		case "False", "false", "FALSE":
		default:
			return nil, false
		}
	}
	return out, true
}

// headerNames はヘッダ行を正規化し、空の名前と重複をpandasと同じ規則で補う。
func headerNames(raw []string) []string {
	names := make([]string, len(raw))
	seen := make(map[string]struct{}, len(raw))
	counts := make(map[string]int)
	for i, h := range raw {
		h = norm.NFC.String(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		if h == "" {
			h = "Unnamed: " + strconv.Itoa(i)
		}
		base := h
		for {
			if _, dup := seen[h]; !dup {
				break
			}
			counts[base]++
			h = base + "." + strconv.Itoa(counts[base])
		}
		seen[h] = struct{}{}
		names[i] = h
	}
	return names
}
