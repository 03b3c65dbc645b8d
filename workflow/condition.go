package workflow

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/BaSui01/crewflow/agent/crews"
)

// Condition 是转移条件树. 变体集合是封闭的, 只能使用本包定义的类型.
type Condition interface {
	fmt.Stringer
	condition()
}

// Always 无条件成立
type Always struct{}

// OnSuccess 在源状态的 Crew 成功时成立; 未绑定 Crew 的状态视为成功
type OnSuccess struct{}

// OnFailure 在源状态的 Crew 未成功时成立
type OnFailure struct{}

// OutputContains 在 Crew 合并输出包含 Text 时成立(区分大小写)
type OutputContains struct {
	Text string
}

// VariableEquals 在运行变量 Key 等于 Value 时成立. 数值按 float64 比较.
type VariableEquals struct {
	Key   string
	Value any
}

// And 全部成立; 空列表视为成立
type And struct {
	Conditions []Condition
}

// Or 任一成立; 空列表视为不成立
type Or struct {
	Conditions []Condition
}

// Not 取反
type Not struct {
	Condition Condition
}

func (Always) condition()         {}
func (OnSuccess) condition()      {}
func (OnFailure) condition()      {}
func (OutputContains) condition() {}
func (VariableEquals) condition() {}
func (And) condition()            {}
func (Or) condition()             {}
func (Not) condition()            {}

func (Always) String() string    { return "always" }
func (OnSuccess) String() string { return "success" }
func (OnFailure) String() string { return "failure" }

func (c OutputContains) String() string {
	return "output_contains(" + strconv.Quote(c.Text) + ")"
}

func (c VariableEquals) String() string {
	return "vars." + c.Key + " == " + formatLiteral(c.Value)
}

func (c And) String() string { return joinConditions(c.Conditions, " && ", "always") }
func (c Or) String() string  { return joinConditions(c.Conditions, " || ", "!always") }

func (c Not) String() string {
	if c.Condition == nil {
		return "!(always)"
	}
	return "!(" + c.Condition.String() + ")"
}

func joinConditions(cs []Condition, sep, empty string) string {
	if len(cs) == 0 {
		return empty
	}
	parts := make([]string, len(cs))
	for i, c := range cs {
		if c == nil {
			parts[i] = "always"
			continue
		}
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func formatLiteral(v any) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case nil:
		return "null"
	default:
		return fmt.Sprint(x)
	}
}

// Evaluation 是条件求值的输入
type Evaluation struct {
	// Result 为 nil 表示源状态没有绑定 Crew
	Result *crews.CrewResult
	Vars   *RunContext
}

func (e Evaluation) succeeded() bool {
	return e.Result == nil || e.Result.Success
}

// Evaluate 对条件树求值. nil 条件等同于 Always.
func Evaluate(c Condition, in Evaluation) bool {
	switch c := c.(type) {
	case nil, Always:
		return true
	case OnSuccess:
		return in.succeeded()
	case OnFailure:
		return !in.succeeded()
	case OutputContains:
		return in.Result != nil && strings.Contains(in.Result.Output, c.Text)
	case VariableEquals:
		v, ok := in.Vars.Get(c.Key)
		return ok && valuesEqual(v, c.Value)
	case And:
		for _, sub := range c.Conditions {
			if !Evaluate(sub, in) {
				return false
			}
		}
		return true
	case Or:
		for _, sub := range c.Conditions {
			if Evaluate(sub, in) {
				return true
			}
		}
		return false
	case Not:
		return !Evaluate(c.Condition, in)
	default:
		return false
	}
}

// ValidateCondition 检查条件树只由本包的变体组成
func ValidateCondition(c Condition) error {
	switch c := c.(type) {
	case nil, Always, OnSuccess, OnFailure, OutputContains:
		return nil
	case VariableEquals:
		if strings.TrimSpace(c.Key) == "" {
			return fmt.Errorf("variable condition requires a key")
		}
		return nil
	case And:
		return validateAll(c.Conditions)
	case Or:
		return validateAll(c.Conditions)
	case Not:
		if c.Condition == nil {
			return fmt.Errorf("not requires an operand")
		}
		return ValidateCondition(c.Condition)
	default:
		return fmt.Errorf("unsupported condition %T", c)
	}
}

func validateAll(cs []Condition) error {
	for _, c := range cs {
		if err := ValidateCondition(c); err != nil {
			return err
		}
	}
	return nil
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
