package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/mautops/workflow-gin/internal/model"
	"gorm.io/gorm/clause"
)

// scopeChain 返回从执行到实例的变量作用域,根执行对应实例作用域 ""
func (e *GormEngine) scopeChain(ctx context.Context, executionID string) (string, []string, error) {
	var (
		scopes     []string
		instanceID string
	)
	id := executionID
	for id != "" {
		exec, err := e.loadExecution(ctx, id)
		if err != nil {
			return "", nil, err
		}
		instanceID = exec.ProcessInstanceID
		if exec.Kind == model.ExecutionKindRoot {
			break
		}
		scopes = append(scopes, exec.ID)
		id = exec.ParentID
	}
	return instanceID, append(scopes, ""), nil
}

// findVariable 沿作用域链查找变量
func (e *GormEngine) findVariable(ctx context.Context, executionID, name string) (*model.VariableModel, string, error) {
	instanceID, scopes, err := e.scopeChain(ctx, executionID)
	if err != nil {
		return nil, "", err
	}
	var rows []model.VariableModel
	if err := e.db(ctx).Where("process_instance_id = ? AND name = ? AND execution_id IN ?", instanceID, name, scopes).
		Find(&rows).Error; err != nil {
		return nil, "", fmt.Errorf("failed to query variable %s: %w", name, err)
	}
	for _, scope := range scopes {
		for i := range rows {
			if rows[i].ExecutionID == scope {
				return &rows[i], instanceID, nil
			}
		}
	}
	return nil, instanceID, nil
}

// GetVariable 读取变量,局部变量优先;out 为 JSON 解码目标
func (e *GormEngine) GetVariable(ctx context.Context, executionID, name string, out interface{}) (bool, error) {
	v, _, err := e.findVariable(ctx, executionID, name)
	if err != nil || v == nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(v.Value), out); err != nil {
		return true, fmt.Errorf("failed to decode variable %s: %w", name, err)
	}
	return true, nil
}

// SetVariable 写入变量:已存在则覆盖所在作用域,否则写入实例作用域
func (e *GormEngine) SetVariable(ctx context.Context, executionID, name string, value interface{}) error {
	v, instanceID, err := e.findVariable(ctx, executionID, name)
	if err != nil {
		return err
	}
	scope := ""
	if v != nil {
		scope = v.ExecutionID
	}
	return e.setLocalVariables(ctx, instanceID, scope, map[string]interface{}{name: value})
}

// InstanceVariables 返回实例级变量
func (e *GormEngine) InstanceVariables(ctx context.Context, instanceID string) (map[string]interface{}, error) {
	var rows []model.VariableModel
	if err := e.db(ctx).Where("process_instance_id = ? AND execution_id = ''", instanceID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query variables: %w", err)
	}
	vars := make(map[string]interface{}, len(rows))
	for _, r := range rows {
		var v interface{}
		if err := json.Unmarshal([]byte(r.Value), &v); err != nil {
			return nil, fmt.Errorf("failed to decode variable %s: %w", r.Name, err)
		}
		vars[r.Name] = v
	}
	return vars, nil
}

// SetInstanceVariables 批量写入实例级变量
func (e *GormEngine) SetInstanceVariables(ctx context.Context, instanceID string, variables map[string]interface{}) error {
	return e.setLocalVariables(ctx, instanceID, "", variables)
}

// setLocalVariables 在指定作用域 upsert 变量
func (e *GormEngine) setLocalVariables(ctx context.Context, instanceID, executionID string, variables map[string]interface{}) error {
	if len(variables) == 0 {
		return nil
	}
	now := e.now()
	rows := make([]model.VariableModel, 0, len(variables))
	for name, value := range variables {
		data, err := json.Marshal(value)
		if err != nil {
			return flowerr.InvalidArgument("variable %s cannot be encoded: %v", name, err)
		}
		rows = append(rows, model.VariableModel{
			ID:                newID(),
			ProcessInstanceID: instanceID,
			ExecutionID:       executionID,
			Name:              name,
			Value:             string(data),
			UpdatedAt:         now,
		})
	}
	err := e.db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "process_instance_id"}, {Name: "execution_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to save variables: %w", err)
	}
	return nil
}

// resolveExpression 解析办理人表达式,${var} 取变量值,其余按字面量处理
func (e *GormEngine) resolveExpression(ctx context.Context, executionID, expr string) ([]string, error) {
	name, ok := ExpressionVariable(expr)
	if !ok {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			return nil, nil
		}
		return []string{expr}, nil
	}
	var raw interface{}
	found, err := e.GetVariable(ctx, executionID, name, &raw)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, flowerr.Misconfigured("variable %s referenced by expression %s is not defined", name, expr)
	}
	return toStringList(raw), nil
}

// toStringList 将变量值转换为字符串列表,字符串按逗号拆分
func toStringList(raw interface{}) []string {
	var result []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			result = append(result, s)
		}
	}
	switch v := raw.(type) {
	case nil:
	case string:
		for _, s := range strings.Split(v, ",") {
			add(s)
		}
	case []string:
		for _, s := range v {
			add(s)
		}
	case []interface{}:
		for _, item := range v {
			if item != nil {
				add(fmt.Sprint(item))
			}
		}
	default:
		add(fmt.Sprint(v))
	}
	return result
}
