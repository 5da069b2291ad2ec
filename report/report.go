// Package report は評価指標の標準出力への書き出しと、その解析、
// Prometheus テキストファイルと評価プロットの出力を提供します。
package report

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/YuminosukeSato/scitrain/pkg/errors"
)

// Metric は1つの評価指標
type Metric struct {
	// Name は標準出力に書く表示名 ("Accuracy", "R2 Score" など)
	Name string
	// Key は Prometheus のラベル値に使う名前 ("accuracy", "r2")
	Key   string
	Value float64
	// Repr が true の場合は小数点以下2桁に丸めず、float の repr 形式で書く
	Repr bool
}

// String は "Name: value" 形式の1行を返す
func (m Metric) String() string {
	if m.Repr {
		return m.Name + ": " + FormatRepr(m.Value)
	}
	return fmt.Sprintf("%s: %.2f", m.Name, m.Value)
}

// Summary は1回の学習の評価結果
type Summary struct {
	RunID     string
	Task      string
	Algorithm string
	Scoring   string

	// Metrics は標準出力に書く指標 (順序を保つ)
	Metrics []Metric
	// Extra はテキストファイルやメタデータにだけ残す補助指標
	Extra []Metric

	CVScore       float64
	TrainSamples  int
	TestSamples   int
	SearchTime    time.Duration
	TotalDuration time.Duration
}

// Get は Key で指標を探す
func (s *Summary) Get(key string) (float64, bool) {
	for _, list := range [][]Metric{s.Metrics, s.Extra} {
		for _, m := range list {
			if m.Key == key {
				return m.Value, true
			}
		}
	}
	return 0, false
}

// Values は全ての指標を Key → 値 の map で返す
func (s *Summary) Values() map[string]float64 {
	out := make(map[string]float64, len(s.Metrics)+len(s.Extra))
	for _, list := range [][]Metric{s.Metrics, s.Extra} {
		for _, m := range list {
			out[m.Key] = m.Value
		}
	}
	return out
}

// Write は Metrics を1行ずつ w に書く
func Write(w io.Writer, s *Summary) error {
	for _, m := range s.Metrics {
		if _, err := fmt.Fprintln(w, m.String()); err != nil {
			return errors.Wrap(err, "write metrics")
		}
	}
	return nil
}

// FormatRepr は float を最短で往復可能な10進表現で書く。
// 指数が -4 以上 16 未満なら固定小数点で、整数値にも ".0" を付ける (1.0, 0.85, 1e-05, 1e+16)。
func FormatRepr(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	e := strconv.FormatFloat(v, 'e', -1, 64)
	exp, _ := strconv.Atoi(e[strings.IndexByte(e, 'e')+1:])
	if exp < -4 || exp >= 16 {
		return e
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// ParseMetrics は "Name: value" 形式の行を解析して 表示名 → 値 の map を返す。
// 空行は読み飛ばす。
func ParseMetrics(lines []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) != 2 {
			return nil, errors.NewValueError("ParseMetrics", "invalid output format: "+strconv.Quote(line))
		}
		name := strings.TrimSpace(parts[0])
		raw := strings.TrimSpace(parts[1])
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.NewValueError("ParseMetrics", "failed to parse value as float: "+strconv.Quote(raw))
		}
		out[name] = v
	}
	return out, nil
}

// ParseOutput は標準出力全体を解析する
func ParseOutput(r io.Reader) (map[string]float64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read metrics output")
	}
	return ParseMetrics(strings.Split(string(data), "\n"))
}
