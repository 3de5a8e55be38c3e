package parser

import (
	"testing"

	"github.com/dr8co/ape/ast"
	"github.com/dr8co/ape/lexer"
)

func parseProgram(t *testing.T, input string) *ast.Program {
	t.Helper()
	p := New(lexer.New(input))
	program := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("parsing %q: unexpected errors: %v", input, errs)
	}
	return program
}

func TestVarAndConstStatements(t *testing.T) {
	tests := []struct {
		input     string
		wantName  string
		wantConst bool
	}{
		{"var x = 5;", "x", false},
		{"const y = true;", "y", true},
		{"var foo = bar;", "foo", false},
	}
	for _, tt := range tests {
		program := parseProgram(t, tt.input)
		if len(program.Statements) != 1 {
			t.Fatalf("%q: got %d statements, want 1", tt.input, len(program.Statements))
		}
		stmt, ok := program.Statements[0].(*ast.VarStatement)
		if !ok {
			t.Fatalf("%q: statement is %T, want *ast.VarStatement", tt.input, program.Statements[0])
		}
		if stmt.Name.Value != tt.wantName {
			t.Errorf("%q: name = %q, want %q", tt.input, stmt.Name.Value, tt.wantName)
		}
		if stmt.Const != tt.wantConst {
			t.Errorf("%q: Const = %v, want %v", tt.input, stmt.Const, tt.wantConst)
		}
	}
}

func TestOperatorPrecedence(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"-a * b;", "((-a) * b)"},
		{"a + b * c;", "(a + (b * c))"},
		{"a % b + c;", "((a % b) + c)"},
		{"a < b == c > d;", "((a < b) == (c > d))"},
		{"a <= b && c >= d;", "((a <= b) && (c >= d))"},
		{"a || b && c;", "(a || (b && c))"},
		{"a + b[1] * c;", "(a + ((b[1]) * c))"},
		{"a.b + c;", "((a.b) + c)"},
		{"!(true == true);", "(!(true == true))"},
	}
	for _, tt := range tests {
		program := parseProgram(t, tt.input)
		got := program.String()
		if got != tt.want {
			t.Errorf("%q parsed as %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAssignmentIsRightAssociative(t *testing.T) {
	program := parseProgram(t, "a = b = 1;")
	stmt := program.Statements[0].(*ast.ExpressionStatement)
	outer, ok := stmt.Expression.(*ast.AssignExpression)
	if !ok {
		t.Fatalf("expression is %T, want *ast.AssignExpression", stmt.Expression)
	}
	if _, ok := outer.Value.(*ast.AssignExpression); !ok {
		t.Errorf("a = b = 1 should parse as a = (b = 1), value is %T", outer.Value)
	}
}

func TestCompoundAssignmentAndPostfix(t *testing.T) {
	program := parseProgram(t, "x += 2; y--;")
	if len(program.Statements) != 2 {
		t.Fatalf("got %d statements, want 2", len(program.Statements))
	}
	assign := program.Statements[0].(*ast.ExpressionStatement).Expression.(*ast.AssignExpression)
	if assign.Operator != "+=" {
		t.Errorf("operator = %q, want %q", assign.Operator, "+=")
	}
	postfix := program.Statements[1].(*ast.ExpressionStatement).Expression.(*ast.PostfixExpression)
	if postfix.Operator != "--" {
		t.Errorf("operator = %q, want %q", postfix.Operator, "--")
	}
}

func TestNumberLiterals(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"5;", 5},
		{"3.75;", 3.75},
		{"0x1F;", 31},
		{"0XfF;", 255},
	}
	for _, tt := range tests {
		program := parseProgram(t, tt.input)
		lit, ok := program.Statements[0].(*ast.ExpressionStatement).Expression.(*ast.NumberLiteral)
		if !ok {
			t.Fatalf("%q: expression is not a number literal", tt.input)
		}
		if lit.Value != tt.want {
			t.Errorf("%q: value = %v, want %v", tt.input, lit.Value, tt.want)
		}
	}
}

func TestIfElseIfChain(t *testing.T) {
	program := parseProgram(t, "if (a) { 1; } else if (b) { 2; } else { 3; }")
	expr := program.Statements[0].(*ast.ExpressionStatement).Expression.(*ast.IfExpression)
	if expr.Alternative == nil {
		t.Fatal("else-if chain lost its alternative")
	}
	nested, ok := expr.Alternative.Statements[0].(*ast.ExpressionStatement).Expression.(*ast.IfExpression)
	if !ok {
		t.Fatalf("alternative holds %T, want a nested *ast.IfExpression", expr.Alternative.Statements[0])
	}
	if nested.Alternative == nil {
		t.Error("nested if lost its else block")
	}
}

func TestBracelessIfBranch(t *testing.T) {
	program := parseProgram(t, "const f = fn(x){ if (x==0) return 0; return f(x-1); };")
	fl := program.Statements[0].(*ast.VarStatement).Value.(*ast.FunctionLiteral)
	if len(fl.Body.Statements) != 2 {
		t.Fatalf("function body has %d statements, want 2 (if, return)", len(fl.Body.Statements))
	}
	ifExpr := fl.Body.Statements[0].(*ast.ExpressionStatement).Expression.(*ast.IfExpression)
	if len(ifExpr.Consequence.Statements) != 1 {
		t.Fatalf("braceless consequence has %d statements, want 1", len(ifExpr.Consequence.Statements))
	}
	if _, ok := ifExpr.Consequence.Statements[0].(*ast.ReturnStatement); !ok {
		t.Errorf("braceless consequence is %T, want *ast.ReturnStatement", ifExpr.Consequence.Statements[0])
	}
}

func TestLoopStatements(t *testing.T) {
	program := parseProgram(t, `
		while (x < 10) { x = x + 1; }
		for (var i = 0; i < 10; i = i + 1) { break; }
		for (v in xs) { continue; }
	`)
	if len(program.Statements) != 3 {
		t.Fatalf("got %d statements, want 3", len(program.Statements))
	}
	if _, ok := program.Statements[0].(*ast.WhileStatement); !ok {
		t.Errorf("statement 0 is %T, want *ast.WhileStatement", program.Statements[0])
	}
	forStmt, ok := program.Statements[1].(*ast.ForStatement)
	if !ok {
		t.Fatalf("statement 1 is %T, want *ast.ForStatement", program.Statements[1])
	}
	if forStmt.Init == nil || forStmt.Condition == nil || forStmt.Update == nil {
		t.Error("for statement lost one of its clauses")
	}
	feStmt, ok := program.Statements[2].(*ast.ForEachStatement)
	if !ok {
		t.Fatalf("statement 2 is %T, want *ast.ForEachStatement", program.Statements[2])
	}
	if feStmt.Var.Value != "v" {
		t.Errorf("foreach variable = %q, want %q", feStmt.Var.Value, "v")
	}
}

func TestRecoverStatement(t *testing.T) {
	program := parseProgram(t, "recover (e) { return null; }")
	stmt, ok := program.Statements[0].(*ast.RecoverStatement)
	if !ok {
		t.Fatalf("statement is %T, want *ast.RecoverStatement", program.Statements[0])
	}
	if stmt.Param.Value != "e" {
		t.Errorf("param = %q, want %q", stmt.Param.Value, "e")
	}
	if len(stmt.Body.Statements) != 1 {
		t.Errorf("body has %d statements, want 1", len(stmt.Body.Statements))
	}
}

func TestFunctionDeclarationSugar(t *testing.T) {
	program := parseProgram(t, "fn add(a, b) { return a + b; }")
	stmt, ok := program.Statements[0].(*ast.VarStatement)
	if !ok {
		t.Fatalf("statement is %T, want *ast.VarStatement", program.Statements[0])
	}
	if !stmt.Const {
		t.Error("fn declaration should bind as a const")
	}
	fl := stmt.Value.(*ast.FunctionLiteral)
	if fl.Name != "add" || len(fl.Parameters) != 2 {
		t.Errorf("literal = %q with %d params, want add/2", fl.Name, len(fl.Parameters))
	}
}

func TestMapLiteralKeepsPairOrder(t *testing.T) {
	program := parseProgram(t, `var m = {"a": 1, "b": 2, "c": 3};`)
	lit := program.Statements[0].(*ast.VarStatement).Value.(*ast.MapLiteral)
	if len(lit.Keys) != 3 || len(lit.Values) != 3 {
		t.Fatalf("got %d keys / %d values, want 3 / 3", len(lit.Keys), len(lit.Values))
	}
	for i, want := range []string{"a", "b", "c"} {
		key := lit.Keys[i].(*ast.StringLiteral)
		if key.Value != want {
			t.Errorf("key %d = %q, want %q", i, key.Value, want)
		}
	}
}

func TestParseErrorsCarryPosition(t *testing.T) {
	p := New(lexer.New("var = 5;"))
	p.ParseProgram()
	errs := p.Errors()
	if len(errs) == 0 {
		t.Fatal("expected parse errors, got none")
	}
	if errs[0].Line <= 0 {
		t.Errorf("ParseError.Line = %d, want a 1-based line", errs[0].Line)
	}
}
