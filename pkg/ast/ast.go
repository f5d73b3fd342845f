// Package ast defines the node types the Sable evaluator walks.
//
// The parser front end lives outside this repository; it produces these
// nodes. Tests and tooling construct them directly.
package ast

// Node is implemented by every AST node.
type Node interface {
	node()
}

// Stmt is implemented by statement nodes.
type Stmt interface {
	Node
	stmt()
}

// Expr is implemented by expression nodes.
type Expr interface {
	Node
	expr()
}

// Program is the root of a parsed source unit.
type Program struct {
	Stmts []Stmt
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// NullLit is the literal `null`.
type NullLit struct{}

// BoolLit is `true` or `false`.
type BoolLit struct {
	Value bool
}

// IntLit is an integer literal.
type IntLit struct {
	Value int64
}

// FloatLit is a floating-point literal.
type FloatLit struct {
	Value float64
}

// StringLit is a string literal.
type StringLit struct {
	Value string
}

// Ident is a variable reference.
type Ident struct {
	Name string
}

// ArrayLit is `[e1, e2, ...]`.
type ArrayLit struct {
	Elements []Expr
}

// ObjectLit is `{k1: v1, k2: v2, ...}`. Keys and Values are parallel
// slices so field order stays deterministic.
type ObjectLit struct {
	Keys   []string
	Values []Expr
}

// FuncLit is a function literal. The body AST is shared and immutable;
// the closure's captured environment is attached at evaluation time.
type FuncLit struct {
	Params []string
	Body   *BlockStmt
}

// CallExpr is `callee(args...)`.
type CallExpr struct {
	Callee Expr
	Args   []Expr
}

// IndexExpr is `target[index]`.
type IndexExpr struct {
	Target Expr
	Index  Expr
}

// MemberExpr is `target.name`.
type MemberExpr struct {
	Target Expr
	Name   string
}

// BinaryExpr is `left op right` for op in + - * / % == != < <= > >= && ||.
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

// UnaryExpr is `op operand` for op in - !.
type UnaryExpr struct {
	Op      string
	Operand Expr
}

// IfExpr is `if cond { ... } else { ... }`. Else may be nil.
// It is an expression: its value is the last statement's value in the
// taken branch, or null.
type IfExpr struct {
	Cond Expr
	Then *BlockStmt
	Else *BlockStmt
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// LetStmt introduces a new binding in the current scope.
type LetStmt struct {
	Name  string
	Value Expr
}

// AssignStmt writes to an existing binding, array slot, or object field.
// Target must be an *Ident, *IndexExpr, or *MemberExpr.
type AssignStmt struct {
	Target Expr
	Value  Expr
}

// ExprStmt evaluates an expression for its value and side effects.
type ExprStmt struct {
	Expr Expr
}

// WhileStmt is `while cond { ... }`.
type WhileStmt struct {
	Cond Expr
	Body *BlockStmt
}

// ReturnStmt returns from the enclosing function. Value may be nil.
type ReturnStmt struct {
	Value Expr
}

// BlockStmt is a braced statement list with its own lexical scope.
type BlockStmt struct {
	Stmts []Stmt
}

func (*Program) node() {}

func (*NullLit) node()    {}
func (*BoolLit) node()    {}
func (*IntLit) node()     {}
func (*FloatLit) node()   {}
func (*StringLit) node()  {}
func (*Ident) node()      {}
func (*ArrayLit) node()   {}
func (*ObjectLit) node()  {}
func (*FuncLit) node()    {}
func (*CallExpr) node()   {}
func (*IndexExpr) node()  {}
func (*MemberExpr) node() {}
func (*BinaryExpr) node() {}
func (*UnaryExpr) node()  {}
func (*IfExpr) node()     {}

func (*NullLit) expr()    {}
func (*BoolLit) expr()    {}
func (*IntLit) expr()     {}
func (*FloatLit) expr()   {}
func (*StringLit) expr()  {}
func (*Ident) expr()      {}
func (*ArrayLit) expr()   {}
func (*ObjectLit) expr()  {}
func (*FuncLit) expr()    {}
func (*CallExpr) expr()   {}
func (*IndexExpr) expr()  {}
func (*MemberExpr) expr() {}
func (*BinaryExpr) expr() {}
func (*UnaryExpr) expr()  {}
func (*IfExpr) expr()     {}

func (*LetStmt) node()    {}
func (*AssignStmt) node() {}
func (*ExprStmt) node()   {}
func (*WhileStmt) node()  {}
func (*ReturnStmt) node() {}
func (*BlockStmt) node()  {}

func (*LetStmt) stmt()    {}
func (*AssignStmt) stmt() {}
func (*ExprStmt) stmt()   {}
func (*WhileStmt) stmt()  {}
func (*ReturnStmt) stmt() {}
func (*BlockStmt) stmt()  {}
