package service

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
)

// UploadRequest is the input an UploadPolicy decides on
type UploadRequest struct {
	Bucket      string
	Filename    string
	Size        int64
	ContentType string
	UserID      string
	Metadata    map[string]interface{}
}

// UploadPolicy admits or rejects uploads with a CEL expression, for example
//
//	size <= 10485760 && contentType.startsWith("image/")
//
// Available variables: bucket, filename, size, contentType, user, metadata.
// An empty expression admits every upload.
type UploadPolicy struct {
	expression string
	program    cel.Program
}

// NewUploadPolicy compiles expression into a policy
func NewUploadPolicy(expression string) (*UploadPolicy, error) {
	policy := &UploadPolicy{expression: expression}
	if expression == "" {
		return policy, nil
	}

	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("bucket", decls.String),
			decls.NewVar("filename", decls.String),
			decls.NewVar("size", decls.Int),
			decls.NewVar("contentType", decls.String),
			decls.NewVar("user", decls.String),
			decls.NewVar("metadata", decls.NewMapType(decls.String, decls.Dyn)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("upload policy must evaluate to bool, got %s", out)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	policy.program = program
	return policy, nil
}

func (p *UploadPolicy) Expression() string {
	return p.expression
}

// Allows evaluates the policy for req
func (p *UploadPolicy) Allows(req UploadRequest) (bool, error) {
	if p == nil || p.program == nil {
		return true, nil
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	out, _, err := p.program.Eval(map[string]interface{}{
		"bucket":      req.Bucket,
		"filename":    req.Filename,
		"size":        req.Size,
		"contentType": req.ContentType,
		"user":        req.UserID,
		"metadata":    metadata,
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean value")
	}
	return allowed, nil
}
