package service

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const operatorKey contextKey = "operator"

// OperatorInfo is whoever triggered a project change: an API user, or a
// background actor such as the boot recovery or the reconciler.
type OperatorInfo struct {
	UserID string
	Name   string
	System bool
}

func WithOperator(ctx context.Context, op *OperatorInfo) context.Context {
	return context.WithValue(ctx, operatorKey, op)
}

// WithSystemOperator marks ctx as driven by a background actor.
func WithSystemOperator(ctx context.Context, name string) context.Context {
	return WithOperator(ctx, &OperatorInfo{Name: name, System: true})
}

func GetOperatorInfo(ctx context.Context) *OperatorInfo {
	val, ok := ctx.Value(operatorKey).(*OperatorInfo)
	if !ok {
		return nil
	}
	return val
}

// OperatorUserID returns the authenticated user behind ctx. Background
// actors have none.
func OperatorUserID(ctx context.Context) (string, bool) {
	op := GetOperatorInfo(ctx)
	if op == nil || op.System || op.UserID == "" {
		return "", false
	}
	return op.UserID, true
}

// OperatorField names the actor for log lines: "user:<id>",
// "system:<name>", or "system" when unknown.
func OperatorField(ctx context.Context) zap.Field {
	op := GetOperatorInfo(ctx)
	switch {
	case op == nil:
		return zap.String("operator", "system")
	case op.System:
		return zap.String("operator", "system:"+op.Name)
	default:
		return zap.String("operator", "user:"+op.UserID)
	}
}
