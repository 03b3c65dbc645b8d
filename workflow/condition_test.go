package workflow

import (
	"testing"

	"github.com/BaSui01/crewflow/agent/crews"
	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	ok := &crews.CrewResult{Success: true, Output: "Status: APPROVED"}
	failed := &crews.CrewResult{Success: false, Output: "rejected"}
	vars := newRunContext("run", "flow", map[string]any{"mode": "fast", "round": 2, "ready": true})

	tests := []struct {
		name string
		cond Condition
		in   Evaluation
		want bool
	}{
		{"nil is always", nil, Evaluation{}, true},
		{"always", Always{}, Evaluation{Result: failed}, true},
		{"success", OnSuccess{}, Evaluation{Result: ok}, true},
		{"success on failed", OnSuccess{}, Evaluation{Result: failed}, false},
		{"success without crew", OnSuccess{}, Evaluation{}, true},
		{"failure", OnFailure{}, Evaluation{Result: failed}, true},
		{"failure without crew", OnFailure{}, Evaluation{}, false},
		{"contains", OutputContains{Text: "APPROVED"}, Evaluation{Result: ok}, true},
		{"contains is case sensitive", OutputContains{Text: "approved"}, Evaluation{Result: ok}, false},
		{"contains without crew", OutputContains{Text: ""}, Evaluation{}, false},
		{"var equals", VariableEquals{Key: "mode", Value: "fast"}, Evaluation{Vars: vars}, true},
		{"var differs", VariableEquals{Key: "mode", Value: "slow"}, Evaluation{Vars: vars}, false},
		{"var numeric", VariableEquals{Key: "round", Value: 2.0}, Evaluation{Vars: vars}, true},
		{"var bool", VariableEquals{Key: "ready", Value: true}, Evaluation{Vars: vars}, true},
		{"var missing", VariableEquals{Key: "nope", Value: nil}, Evaluation{Vars: vars}, false},
		{"var nil context", VariableEquals{Key: "mode", Value: "fast"}, Evaluation{}, false},
		{"and", And{Conditions: []Condition{OnSuccess{}, OutputContains{Text: "Status"}}}, Evaluation{Result: ok}, true},
		{"and short", And{Conditions: []Condition{OnFailure{}, Always{}}}, Evaluation{Result: ok}, false},
		{"empty and", And{}, Evaluation{}, true},
		{"or", Or{Conditions: []Condition{OnFailure{}, OutputContains{Text: "APPROVED"}}}, Evaluation{Result: ok}, true},
		{"empty or", Or{}, Evaluation{}, false},
		{"not", Not{Condition: OnSuccess{}}, Evaluation{Result: failed}, true},
		{"nested", Not{Condition: Or{Conditions: []Condition{
			VariableEquals{Key: "mode", Value: "slow"},
			And{Conditions: []Condition{OnFailure{}}},
		}}}, Evaluation{Result: ok, Vars: vars}, true},
		{"foreign type", &Always{}, Evaluation{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.cond, tt.in))
		})
	}
}

func TestValidateCondition(t *testing.T) {
	assert.NoError(t, ValidateCondition(nil))
	assert.NoError(t, ValidateCondition(And{Conditions: []Condition{OnSuccess{}, Not{Condition: Always{}}}}))
	assert.Error(t, ValidateCondition(Not{}))
	assert.Error(t, ValidateCondition(VariableEquals{Value: 1}))
	assert.Error(t, ValidateCondition(Or{Conditions: []Condition{OnSuccess{}, &OnFailure{}}}))
}

func TestConditionString(t *testing.T) {
	c := And{Conditions: []Condition{
		OnSuccess{},
		Not{Condition: OutputContains{Text: `say "hi"`}},
		VariableEquals{Key: "round", Value: 3},
	}}
	assert.Equal(t, `(success && !(output_contains("say \"hi\"")) && vars.round == 3)`, c.String())
	assert.Equal(t, "!always", Or{}.String())
	assert.Equal(t, `vars.mode == "fast"`, VariableEquals{Key: "mode", Value: "fast"}.String())
}
